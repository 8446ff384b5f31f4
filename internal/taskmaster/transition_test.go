package taskmaster

import "testing"

func TestNextStateWaiting(t *testing.T) {
	if got := nextState(transitionInputs{State: Waiting, AutoStart: false}); got != Stopped {
		t.Errorf("Waiting/!autostart -> %v, want Stopped", got)
	}
	if got := nextState(transitionInputs{State: Waiting, AutoStart: true}); got != Starting {
		t.Errorf("Waiting/autostart -> %v, want Starting", got)
	}
}

func TestNextStateStarting(t *testing.T) {
	cases := []struct {
		name string
		in   transitionInputs
		want State
	}{
		{"starttime zero", transitionInputs{State: Starting, StartTimeIsZero: true}, Running},
		{"not running", transitionInputs{State: Starting, StatusRunning: false}, Stopped},
		{"runtime reached", transitionInputs{State: Starting, StatusRunning: true, RuntimeGEStart: true}, Running},
		{"stop requested mid-start", transitionInputs{State: Starting, StatusRunning: true, PendingCommand: PendingStop}, Exiting},
		{"restart requested mid-start", transitionInputs{State: Starting, StatusRunning: true, PendingCommand: PendingRestart}, Exiting},
		{"still starting", transitionInputs{State: Starting, StatusRunning: true}, Starting},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextState(tc.in); got != tc.want {
				t.Errorf("%s: nextState = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestNextStateRunning(t *testing.T) {
	if got := nextState(transitionInputs{State: Running, StatusRunning: false}); got != Stopped {
		t.Errorf("Running/!running -> %v, want Stopped", got)
	}
	if got := nextState(transitionInputs{State: Running, StatusRunning: true, PendingCommand: PendingStop}); got != Exiting {
		t.Errorf("Running/stop -> %v, want Exiting", got)
	}
	if got := nextState(transitionInputs{State: Running, StatusRunning: true}); got != Running {
		t.Errorf("Running/steady -> %v, want Running", got)
	}
}

func TestNextStateExiting(t *testing.T) {
	if got := nextState(transitionInputs{State: Exiting, StatusRunning: false}); got != Stopped {
		t.Errorf("Exiting/!running -> %v, want Stopped", got)
	}
	if got := nextState(transitionInputs{State: Exiting, StatusRunning: true}); got != Exiting {
		t.Errorf("Exiting/running -> %v, want Exiting", got)
	}
}

func TestNextStateStopped(t *testing.T) {
	cases := []struct {
		name string
		in   transitionInputs
		want State
	}{
		{"operator start", transitionInputs{State: Stopped, PendingCommand: PendingStart}, Starting},
		{"operator restart", transitionInputs{State: Stopped, PendingCommand: PendingRestart}, Starting},
		{"autorestart after running", transitionInputs{State: Stopped, PreviousState: Running, NeedsAutoRestart: true}, Starting},
		{"no autorestart after running", transitionInputs{State: Stopped, PreviousState: Running, NeedsAutoRestart: false}, Stopped},
		{"retry budget remains", transitionInputs{State: Stopped, PreviousState: Starting, NumRetries: 2, StartRetries: 3}, Starting},
		{"retry budget exhausted", transitionInputs{State: Stopped, PreviousState: Starting, NumRetries: 4, StartRetries: 3}, Stopped},
		{"stays stopped", transitionInputs{State: Stopped, PreviousState: Stopped}, Stopped},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextState(tc.in); got != tc.want {
				t.Errorf("%s: nextState = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}
