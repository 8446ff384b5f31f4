package config

import (
	"testing"
	"time"
)

const minimalYAML = `
process:
  web:
    cmd: "/bin/sleep 3600"
    numprocs: 2
    autostart: true
    autorestart: unexpected
    starttime: 1
    startretries: 3
    stoptime: 5
    exitcodes: [0, 2]
    env:
      ZEBRA: "z"
      ALPHA: "a"
`

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Programs) != 1 {
		t.Fatalf("got %d programs, want 1", len(cfg.Programs))
	}
	p := cfg.Programs[0]
	if p.Name != "web" {
		t.Errorf("Name = %q, want web", p.Name)
	}
	if p.NumProcs != 2 {
		t.Errorf("NumProcs = %d, want 2", p.NumProcs)
	}
	if p.AutoRestart != AutoRestartUnexpected {
		t.Errorf("AutoRestart = %v, want unexpected", p.AutoRestart)
	}
	if p.StartTime != time.Second {
		t.Errorf("StartTime = %v, want 1s", p.StartTime)
	}
	if p.StopTime != 5*time.Second {
		t.Errorf("StopTime = %v, want 5s", p.StopTime)
	}
	if _, ok := p.ExitCodes[2]; !ok {
		t.Errorf("ExitCodes missing 2: %v", p.ExitCodes)
	}
	// Env keys must come out sorted, regardless of YAML map order, so
	// two parses of an unchanged file are bit-identical.
	if len(p.Env) != 2 || p.Env[0].Name != "ALPHA" || p.Env[1].Name != "ZEBRA" {
		t.Errorf("Env not sorted: %#v", p.Env)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	const bad = `
process:
  web:
    cmd: "/bin/sleep 1"
    bogus_field: true
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for unknown field, got none")
	}
}

func TestParseRejectsBothSections(t *testing.T) {
	const bad = `
process:
  a:
    cmd: "/bin/true"
programs:
  b:
    cmd: "/bin/true"
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error when both process and programs given")
	}
}

func TestParseDeterministic(t *testing.T) {
	a, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !a.Programs[0].Equal(b.Programs[0]) {
		t.Error("two parses of the same file produced unequal ProcessConfigs")
	}
}

func TestParseInvalidNumProcs(t *testing.T) {
	const bad = `
process:
  web:
    cmd: "/bin/true"
    numprocs: 0
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for numprocs 0")
	}
}

func TestParseInvalidWorkingDir(t *testing.T) {
	const bad = `
process:
  web:
    cmd: "/bin/true"
    workingdir: /definitely/does/not/exist/anywhere
`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for nonexistent workingdir")
	}
}

func TestParseDefaults(t *testing.T) {
	const minimal = `
process:
  web:
    cmd: "/bin/true"
`
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := cfg.Programs[0]
	if p.NumProcs != 1 {
		t.Errorf("default NumProcs = %d, want 1", p.NumProcs)
	}
	if !p.AutoStart {
		t.Errorf("default AutoStart = false, want true")
	}
	if p.AutoRestart != AutoRestartFalse {
		t.Errorf("default AutoRestart = %v, want false", p.AutoRestart)
	}
	if p.StopSignal != defaultStopSignal() {
		t.Errorf("default StopSignal = %v, want %v", p.StopSignal, defaultStopSignal())
	}
	if _, ok := p.ExitCodes[0]; !ok || len(p.ExitCodes) != 1 {
		t.Errorf("default ExitCodes = %v, want {0}", p.ExitCodes)
	}
}
