package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// rawFile mirrors the on-disk shape described in spec.md §6: a mapping
// under the top-level key "process" (or "programs", accepted
// equivalently), each child a mapping of the fields below. Unknown
// fields are rejected via yaml.Decoder.KnownFields.
type rawFile struct {
	Process  map[string]rawProgram `yaml:"process"`
	Programs map[string]rawProgram `yaml:"programs"`
}

type rawProgram struct {
	Cmd             string            `yaml:"cmd"`
	WorkingDir      string            `yaml:"workingdir"`
	Stdout          string            `yaml:"stdout"`
	Stderr          string            `yaml:"stderr"`
	StopSignal      string            `yaml:"stopsignal"`
	NumProcs        *int              `yaml:"numprocs"`
	StartTime       *int              `yaml:"starttime"`
	StartRetries    *int              `yaml:"startretries"`
	StopTime        *int              `yaml:"stoptime"`
	Umask           *int              `yaml:"umask"`
	AutoStart       *bool             `yaml:"autostart"`
	AutoRestart     string            `yaml:"autorestart"`
	RestartCooldown string            `yaml:"restart_cooldown"`
	Env             map[string]string `yaml:"env"`
	ExitCodes       []int             `yaml:"exitcodes"`
}

// Parse parses raw configuration file bytes into a validated Config.
// Any parse or validation failure aborts the whole parse — callers
// (the Reconfigurer and the daemon's startup path) treat a non-nil
// error as spec.md §7's ConfigInvalid and preserve whatever table they
// already had.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawFile
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if len(raw.Process) > 0 && len(raw.Programs) > 0 {
		return nil, fmt.Errorf("config: both 'process' and 'programs' given; use one")
	}
	section := raw.Process
	if len(section) == 0 {
		section = raw.Programs
	}
	if len(section) == 0 {
		return nil, fmt.Errorf("config: missing 'process' (or 'programs') section")
	}

	// Deterministic iteration order: sort names so repeated parses of an
	// unchanged file produce bit-identical Config values (spec.md §8's
	// "two consecutive reloads ... leave the table bit-identical").
	names := make([]string, 0, len(section))
	for name := range section {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg := &Config{}
	for _, name := range names {
		pc, err := parseProgram(name, section[name])
		if err != nil {
			return nil, err
		}
		cfg.Programs = append(cfg.Programs, pc)
	}
	return cfg, nil
}

// ParseFile reads and parses the configuration file at path.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	return Parse(data)
}

func parseProgram(name string, r rawProgram) (*ProcessConfig, error) {
	if !nameRE.MatchString(name) {
		return nil, fmt.Errorf("config: invalid program name %q", name)
	}
	if r.Cmd == "" {
		return nil, fmt.Errorf("config: program %q: missing cmd", name)
	}
	argv, err := SplitWords(r.Cmd)
	if err != nil {
		return nil, fmt.Errorf("config: program %q: %w", name, err)
	}
	execPath, err := ResolveExecPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("config: program %q: %w", name, err)
	}

	pc := &ProcessConfig{
		Name:       name,
		Argv:       argv,
		ExecPath:   execPath,
		WorkingDir: r.WorkingDir,
		StdoutPath: r.Stdout,
		StderrPath: r.Stderr,
		NumProcs:   1,
		StopTime:   10 * time.Second,
		Umask:      0o022,
		AutoStart:  true,
		ExitCodes:  map[int]struct{}{0: {}},
	}

	if pc.WorkingDir != "" {
		info, err := os.Stat(pc.WorkingDir)
		if err != nil {
			return nil, fmt.Errorf("config: program %q: workingdir: %w", name, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("config: program %q: workingdir %q is not a directory", name, pc.WorkingDir)
		}
	}

	if r.StopSignal != "" {
		sig, err := ParseSignal(r.StopSignal)
		if err != nil {
			return nil, fmt.Errorf("config: program %q: %w", name, err)
		}
		pc.StopSignal = sig
	} else {
		pc.StopSignal = defaultStopSignal()
	}

	if r.NumProcs != nil {
		if *r.NumProcs < 1 {
			return nil, fmt.Errorf("config: program %q: numprocs must be >= 1", name)
		}
		pc.NumProcs = *r.NumProcs
	}

	if r.StartTime != nil {
		if *r.StartTime < 0 {
			return nil, fmt.Errorf("config: program %q: starttime must be >= 0", name)
		}
		pc.StartTime = time.Duration(*r.StartTime) * time.Second
	}

	if r.StartRetries != nil {
		if *r.StartRetries < 0 {
			return nil, fmt.Errorf("config: program %q: startretries must be >= 0", name)
		}
		pc.StartRetries = *r.StartRetries
	}

	if r.StopTime != nil {
		if *r.StopTime < 1 {
			return nil, fmt.Errorf("config: program %q: stoptime must be >= 1", name)
		}
		pc.StopTime = time.Duration(*r.StopTime) * time.Second
	}

	if r.Umask != nil {
		pc.Umask = *r.Umask
	}

	if r.AutoStart != nil {
		pc.AutoStart = *r.AutoStart
	}

	switch r.AutoRestart {
	case "", "false":
		pc.AutoRestart = AutoRestartFalse
	case "true":
		pc.AutoRestart = AutoRestartTrue
	case "unexpected":
		pc.AutoRestart = AutoRestartUnexpected
	default:
		return nil, fmt.Errorf("config: program %q: invalid autorestart %q", name, r.AutoRestart)
	}

	if r.RestartCooldown != "" {
		d, err := time.ParseDuration(r.RestartCooldown)
		if err != nil {
			return nil, fmt.Errorf("config: program %q: restart_cooldown: %w", name, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("config: program %q: restart_cooldown must be >= 0", name)
		}
		pc.RestartCooldown = d
	}

	if len(r.Env) > 0 {
		keys := make([]string, 0, len(r.Env))
		for k := range r.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pc.Env = append(pc.Env, EnvVar{Name: k, Value: r.Env[k]})
		}
	}

	if len(r.ExitCodes) > 0 {
		pc.ExitCodes = make(map[int]struct{}, len(r.ExitCodes))
		for _, code := range r.ExitCodes {
			if code < 0 || code > 255 {
				return nil, fmt.Errorf("config: program %q: exitcode %d out of range [0,255]", name, code)
			}
			pc.ExitCodes[code] = struct{}{}
		}
	}

	return pc, nil
}
