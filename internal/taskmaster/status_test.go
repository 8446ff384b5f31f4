package taskmaster

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lmnz/taskmasterd/internal/config"
)

func testGroup(t *testing.T, startRetries int, exitCodes ...int) *ProcessGroup {
	t.Helper()
	codes := map[int]struct{}{}
	for _, c := range exitCodes {
		codes[c] = struct{}{}
	}
	cfg := &config.ProcessConfig{
		Name:         "web",
		StartRetries: startRetries,
		ExitCodes:    codes,
	}
	return &ProcessGroup{config: cfg}
}

func TestRenderReplicaRunning(t *testing.T) {
	g := testGroup(t, 3, 0)
	p := newManagedProcess(g, 0, zap.NewNop())
	p.pid = 1234
	p.state = Running

	got := renderReplica(p)
	want := "(1234) - (Running)"
	if got != want {
		t.Errorf("renderReplica = %q, want %q", got, want)
	}
}

func TestRenderReplicaStoppedAnnotations(t *testing.T) {
	g := testGroup(t, 3, 0)
	p := newManagedProcess(g, 0, zap.NewNop())
	p.state = Stopped
	p.status = Status{Running: false, Killed: true, HasExitStatus: true, ExitStatus: 2}

	got := renderReplica(p)
	if !strings.Contains(got, "(none)") {
		t.Errorf("renderReplica = %q, want pid none", got)
	}
	if !strings.Contains(got, "exited unexpectedly") {
		t.Errorf("renderReplica = %q, want 'exited unexpectedly'", got)
	}
	if !strings.Contains(got, "killed") {
		t.Errorf("renderReplica = %q, want 'killed'", got)
	}
}

func TestStoppedAnnotationsAborted(t *testing.T) {
	g := testGroup(t, 3, 0)
	p := newManagedProcess(g, 0, zap.NewNop())
	p.state = Stopped
	p.numRetries = 4
	p.status = Status{HasExitStatus: true, ExitStatus: 0}

	anns := stoppedAnnotations(p)
	found := false
	for _, a := range anns {
		if a == "aborted" {
			found = true
		}
	}
	if !found {
		t.Errorf("stoppedAnnotations = %v, want to include 'aborted'", anns)
	}
}

func TestStoppedAnnotationsExpectedExitNoAnnotation(t *testing.T) {
	g := testGroup(t, 3, 0)
	p := newManagedProcess(g, 0, zap.NewNop())
	p.state = Stopped
	p.status = Status{HasExitStatus: true, ExitStatus: 0}

	anns := stoppedAnnotations(p)
	if len(anns) != 0 {
		t.Errorf("stoppedAnnotations = %v, want none for expected exit", anns)
	}
}
