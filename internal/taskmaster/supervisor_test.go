package taskmaster

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lmnz/taskmasterd/internal/config"
)

func cooldownGroup(t *testing.T, base time.Duration, autoRestart config.AutoRestart) *ProcessGroup {
	t.Helper()
	cfg := &config.ProcessConfig{
		Name:            "web",
		StartRetries:    3,
		ExitCodes:       map[int]struct{}{0: {}},
		RestartCooldown: base,
		AutoRestart:     autoRestart,
	}
	return &ProcessGroup{config: cfg}
}

// An operator-issued start/restart (case a) must not wait out an armed
// cooldown meant to pace autorestarts (case b) only.
func TestStepTransitionCooldownDoesNotGateOperatorStart(t *testing.T) {
	g := cooldownGroup(t, time.Minute, config.AutoRestartTrue)
	p := newManagedProcess(g, 0, zap.NewNop())
	p.state = Stopped
	p.previousState = Stopped
	p.pendingCommand = PendingStart
	p.cooldown.until = time.Now().Add(time.Hour) // armed, far in the future

	s := &Supervisor{}
	s.stepTransition(p)

	if p.state != Starting {
		t.Errorf("state = %v, want Starting (operator start must bypass cooldown)", p.state)
	}
}

// A still-Starting replica retrying within its startretries budget
// (case c) must not be gated by the cooldown either.
func TestStepTransitionCooldownDoesNotGateStartRetryBudget(t *testing.T) {
	g := cooldownGroup(t, time.Minute, config.AutoRestartFalse)
	p := newManagedProcess(g, 0, zap.NewNop())
	p.state = Stopped
	p.previousState = Starting
	p.numRetries = 1
	p.cooldown.until = time.Now().Add(time.Hour)

	s := &Supervisor{}
	s.stepTransition(p)

	if p.state != Starting {
		t.Errorf("state = %v, want Starting (retry budget must bypass cooldown)", p.state)
	}
}

// An exited Running replica eligible for autorestart (case b) is the
// one case the cooldown actually gates.
func TestStepTransitionCooldownGatesAutoRestart(t *testing.T) {
	g := cooldownGroup(t, time.Minute, config.AutoRestartTrue)
	p := newManagedProcess(g, 0, zap.NewNop())
	p.state = Stopped
	p.previousState = Running
	p.cooldown.until = time.Now().Add(time.Hour)

	s := &Supervisor{}
	s.stepTransition(p)

	if p.state != Stopped {
		t.Errorf("state = %v, want Stopped (autorestart must wait for cooldown)", p.state)
	}
}

// Once a replica has run long enough to be considered stable, the
// cooldown resets so a later autorestart doesn't inherit a grown
// backoff interval from an earlier, unrelated flap.
func TestStepTransitionResetsCooldownOnStableRun(t *testing.T) {
	g := cooldownGroup(t, 10*time.Millisecond, config.AutoRestartTrue)
	g.config.StartTime = 0
	p := newManagedProcess(g, 0, zap.NewNop())

	// Simulate an earlier flap: several arms grow the backoff well
	// past its base interval, bounded at 30x base (restart_cooldown.go).
	for i := 0; i < 10; i++ {
		p.cooldown.arm()
	}
	grown := time.Until(p.cooldown.until)

	p.state = Starting
	p.status.Running = true

	s := &Supervisor{}
	s.stepTransition(p)

	if p.state != Running {
		t.Fatalf("state = %v, want Running", p.state)
	}

	p.cooldown.arm()
	afterReset := time.Until(p.cooldown.until)

	// A freshly reset backoff's first arm should land back near the
	// base interval, nowhere close to the grown, pre-reset delay.
	if afterReset >= grown {
		t.Errorf("cooldown.reset() did not shrink the backoff: grown=%v afterReset=%v", grown, afterReset)
	}
}

func TestGroupDrainedAllReapedAndStillRunning(t *testing.T) {
	g := testGroup(t, 3, 0)
	p1 := newManagedProcess(g, 0, zap.NewNop())
	p2 := newManagedProcess(g, 1, zap.NewNop())
	g.replicas = []*ManagedProcess{p1, p2}

	if !groupDrained(g) {
		t.Errorf("groupDrained = false, want true for never-spawned replicas (pid 0)")
	}

	p1.pid = 100
	if groupDrained(g) {
		t.Errorf("groupDrained = true, want false while a replica still has a live pid")
	}
}
