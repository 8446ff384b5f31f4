package taskmaster

import (
	"time"

	"go.uber.org/zap"
)

// Supervisor is spec.md §4.2's worker-thread loop: each tick acquires
// the ProcessTable lock (M1), walks every replica, applies the
// state-action step, then the pure transition step. Grounded on
// kornnellio-gosv/supervisor.go's Run() select loop, generalized from
// signal-driven reaping to a tick-driven walk per SPEC_FULL.md §10.
type Supervisor struct {
	table  *ProcessTable
	poll   *PollSet
	wakeup *wakeupPipe
	log    *zap.Logger

	tickInterval time.Duration
	stopc        chan struct{}
	donec        chan struct{}
}

func newSupervisor(table *ProcessTable, poll *PollSet, wakeup *wakeupPipe, log *zap.Logger, tickInterval time.Duration) *Supervisor {
	if tickInterval <= 0 {
		tickInterval = 100 * time.Millisecond
	}
	return &Supervisor{
		table:        table,
		poll:         poll,
		wakeup:       wakeup,
		log:          log,
		tickInterval: tickInterval,
		stopc:        make(chan struct{}),
		donec:        make(chan struct{}),
	}
}

// Run blocks until Stop is called, ticking on its own schedule.
func (s *Supervisor) Run() {
	defer close(s.donec)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopc:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Stop requests the loop exit and waits for the current tick to
// finish.
func (s *Supervisor) Stop() {
	close(s.stopc)
	<-s.donec
}

// tick performs one full walk of the ProcessTable: Step A (state
// action) then Step B (transition) for every replica, in every group,
// in deterministic name order.
func (s *Supervisor) tick() {
	s.table.Lock()
	defer s.table.Unlock()

	s.table.Each(func(_ string, g *ProcessGroup) {
		for _, p := range g.Replicas() {
			s.stepAction(p)
			s.stepTransition(p)
		}
	})

	s.drainReplaced()
}

// drainReplaced polls every group a reload replaced or removed
// (spec.md §4.5 step 4) until all of its replicas are reaped, then
// closes its sinks and drops it. Runs every tick alongside the live
// table walk so a reload never leaves an unreaped zombie behind.
func (s *Supervisor) drainReplaced() {
	groups := s.table.DrainGroups()
	remaining := groups[:0]
	for _, g := range groups {
		for _, p := range g.Replicas() {
			s.stepDrain(p)
		}
		if groupDrained(g) {
			g.closeSinks()
		} else {
			remaining = append(remaining, g)
		}
	}
	s.table.SetDrainGroups(remaining)
}

// stepDrain reaps a single orphaned replica and, once confirmed
// reaped, unregisters and closes its pipes. A no-op once the replica
// has already been cleaned up.
func (s *Supervisor) stepDrain(p *ManagedProcess) {
	if p.pid == 0 {
		return
	}
	p.pollStatus()
	if p.pid == 0 {
		stdout, stderr := p.pipeFDs()
		if stdout != nil {
			s.poll.Remove(int(stdout.Fd()))
		}
		if stderr != nil {
			s.poll.Remove(int(stderr.Fd()))
		}
		p.closePipes()
	}
}

// groupDrained reports whether every replica in g has been reaped.
func groupDrained(g *ProcessGroup) bool {
	for _, p := range g.Replicas() {
		if p.pid != 0 {
			return false
		}
	}
	return true
}

// forceShutdown drives every replica toward Stopped for spec.md
// §4.2's graceful-shutdown walk (`quit`): Waiting/Starting/Running are
// pushed to Exiting; ticking continues to be driven by the normal
// Run loop until every replica reports Stopped.
func (s *Supervisor) forceShutdown() {
	s.table.Lock()
	defer s.table.Unlock()

	s.table.Each(func(_ string, g *ProcessGroup) {
		for _, p := range g.Replicas() {
			if p.state == Waiting || p.state == Starting || p.state == Running {
				p.previousState = p.state
				p.state = Exiting
				p.justEntered = true
			}
		}
	})
}

// allStopped reports whether every replica in the table has reached
// Stopped and every drained (replaced/removed) group has been fully
// reaped, for the `quit` handler to poll before exiting the process.
func (s *Supervisor) allStopped() bool {
	s.table.Lock()
	defer s.table.Unlock()

	all := true
	s.table.Each(func(_ string, g *ProcessGroup) {
		for _, p := range g.Replicas() {
			if p.state != Stopped {
				all = false
			}
		}
	})
	return all && len(s.table.DrainGroups()) == 0
}

// stepAction implements spec.md §4.2 Step A.
func (s *Supervisor) stepAction(p *ManagedProcess) {
	firstTick := p.justEntered

	switch p.state {
	case Waiting:
		// no-op

	case Starting:
		if firstTick {
			if p.pendingCommand == PendingStart || p.pendingCommand == PendingRestart {
				p.pendingCommand = PendingNone
				p.numRetries = 0
			}
			if err := p.spawn(); err != nil {
				s.log.Warn("spawn failed", zap.String("program", p.group.config.Name), zap.Int("replica", p.index), zap.Error(err))
				p.status.Running = false
				p.numRetries++
				return
			}
			if out, errPipe := p.pipeFDs(); out != nil || errPipe != nil {
				if out != nil {
					s.poll.Add(int(out.Fd()), pollReadable, TagChildPipe, childPipeOwner{p, pipeStdout})
				}
				if errPipe != nil {
					s.poll.Add(int(errPipe.Fd()), pollReadable, TagChildPipe, childPipeOwner{p, pipeStderr})
				}
			}
			s.wakeup.poke()
		} else {
			if p.group.config.StartTime > 0 {
				p.pollStatus()
				if !p.status.Running {
					p.numRetries++
				}
			}
		}

	case Running:
		p.pollStatus()

	case Exiting:
		if firstTick {
			_ = p.signalStop(p.group.config.StopSignal)
		} else {
			p.pollStatus()
			if time.Since(p.stopTS) >= p.group.config.StopTime && p.status.Running && !p.status.Killed {
				p.killHard()
			}
		}

	case Stopped:
		if firstTick {
			stdout, stderr := p.pipeFDs()
			if stdout != nil {
				s.poll.Remove(int(stdout.Fd()))
			}
			if stderr != nil {
				s.poll.Remove(int(stderr.Fd()))
			}
			s.wakeup.poke()
			p.closePipes()
			if p.pendingCommand != PendingRestart {
				p.pendingCommand = PendingNone
			}
			if !p.expectedExit() {
				p.cooldown.arm()
			}
		}
	}
}

// stepTransition implements spec.md §4.2 Step B: compute and commit
// the next state using the pure nextState function.
func (s *Supervisor) stepTransition(p *ManagedProcess) {
	cfg := p.group.config

	next := nextState(transitionInputs{
		State:            p.state,
		PreviousState:    p.previousState,
		AutoStart:        cfg.AutoStart,
		StartTimeIsZero:  cfg.StartTime == 0,
		StatusRunning:    p.status.Running,
		RuntimeGEStart:   p.runtime() >= cfg.StartTime,
		PendingCommand:   p.pendingCommand,
		NeedsAutoRestart: p.needsAutoRestart(),
		NumRetries:       p.numRetries,
		StartRetries:     cfg.StartRetries,
	})

	// Stopped -> Starting is gated by the restart-cooldown pacer
	// (SPEC_FULL.md §5.1), but only for case (b) of spec.md §4.2's
	// Stopped table: a Running replica that exited and needs pacing
	// before its next autorestart attempt. Case (a) (operator-issued
	// start/restart, spec.md §4.4's unconditional pending-command
	// semantics) and case (c) (a still-Starting replica with retry
	// budget left) are not flapping-restart pacing targets and must
	// transition immediately regardless of any armed cooldown.
	if p.state == Stopped && next == Starting {
		operatorStart := p.pendingCommand == PendingStart || p.pendingCommand == PendingRestart
		autoRestarting := !operatorStart && p.previousState == Running && p.needsAutoRestart()
		if autoRestarting && !p.cooldown.ready() {
			// Stay Stopped without recording Stopped as the previous
			// state, so case (b) is evaluated again on the next tick and
			// the restart goes ahead once the cooldown has elapsed.
			p.justEntered = false
			return
		}
	}

	// The cooldown resets once a replica has stayed Running for at
	// least starttime (SPEC_FULL.md §5.1) — the point spec.md's own
	// Starting -> Running criterion treats as "this attempt wasn't a
	// crash loop" — so a later, unrelated autorestart starts its
	// backoff fresh instead of inheriting an already-grown interval.
	if p.state == Starting && next == Running {
		p.cooldown.reset()
	}

	p.justEntered = next != p.state
	p.previousState = p.state
	p.state = next
}

const pollReadable = 0x0001 // POLLIN
