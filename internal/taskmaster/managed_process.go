package taskmaster

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lmnz/taskmasterd/internal/config"
)

// State is one element of spec.md §3's
// Waiting → Starting → Running → Exiting → Stopped lifecycle.
type State int

const (
	Waiting State = iota
	Starting
	Running
	Exiting
	Stopped
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "Waiting"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Exiting:
		return "Exiting"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// PendingCommand is an operator intent posted by the CommandDispatcher
// and consumed by the Supervisor's next tick (spec.md §4.2/§5).
type PendingCommand int

const (
	PendingNone PendingCommand = iota
	PendingStart
	PendingStop
	PendingRestart
)

// Status mirrors spec.md §3's ManagedProcess.status record.
type Status struct {
	Running       bool
	Killed        bool
	HasExitStatus bool
	ExitStatus    int
}

// ManagedProcess is one OS child: spawn, signal, reap, pipe ownership
// (spec.md §3/§4.1). All field access happens under the owning
// ProcessTable's lock (M1) — ManagedProcess carries no lock of its
// own, matching spec.md §5's single-mutex-per-collection model.
type ManagedProcess struct {
	log   *zap.Logger
	group *ProcessGroup
	index int

	pid            int
	startTS        time.Time
	stopTS         time.Time
	numRetries     int
	state          State
	previousState  State
	pendingCommand PendingCommand
	status         Status
	justEntered    bool

	cmd        *exec.Cmd
	stdoutPipe *os.File
	stderrPipe *os.File

	attachedSessions map[*ControlSession]struct{}
	tail             logTail

	nextEligibleStart time.Time // restart-cooldown gate, SPEC_FULL.md §5.1
	cooldown          *cooldown
}

func newManagedProcess(group *ProcessGroup, index int, log *zap.Logger) *ManagedProcess {
	return &ManagedProcess{
		log:              log,
		group:            group,
		index:            index,
		state:            Waiting,
		previousState:    Waiting,
		justEntered:      true,
		attachedSessions: make(map[*ControlSession]struct{}),
		cooldown:         newCooldown(group.config.RestartCooldown),
	}
}

// PID returns the OS process id, or 0 ("none") if no child is
// currently forked-and-not-yet-reaped.
func (p *ManagedProcess) PID() int { return p.pid }

// State returns the current and previous lifecycle states.
func (p *ManagedProcess) State() (state, previous State) { return p.state, p.previousState }

// Status returns the last observed exit/run status.
func (p *ManagedProcess) Status() Status { return p.status }

// NumRetries returns the number of failed start attempts in the
// current start cycle.
func (p *ManagedProcess) NumRetries() int { return p.numRetries }

// PendingCommand returns the operator intent awaiting the next tick.
func (p *ManagedProcess) PendingCommand() PendingCommand { return p.pendingCommand }

// SetPendingCommand posts an operator intent (spec.md §4.4); it is
// consumed on the next Supervisor tick. Called by the
// CommandDispatcher under the ProcessTable lock.
func (p *ManagedProcess) SetPendingCommand(cmd PendingCommand) { p.pendingCommand = cmd }

// Attach registers a ControlSession for output mirroring.
func (p *ManagedProcess) Attach(s *ControlSession) { p.attachedSessions[s] = struct{}{} }

// Detach removes a ControlSession from output mirroring.
func (p *ManagedProcess) Detach(s *ControlSession) { delete(p.attachedSessions, s) }

// detachSession removes one ControlSession from output mirroring, used
// when that session disconnects (spec.md §4.3).
func (p *ManagedProcess) detachSession(s *ControlSession) { delete(p.attachedSessions, s) }

// Tail returns up to n of the most recent output lines, newest first
// (SPEC_FULL.md §6).
func (p *ManagedProcess) Tail(n int) []string { return p.tail.Read(n) }

// spawn creates stdout/stderr pipes and forks+execs the configured
// command (spec.md §4.1). On success it records start_ts, clears
// killed, and keeps the two pipe read ends; the caller (the
// Supervisor's stepAction) registers them with the PollSet.
//
// Implementation note: os/exec.Cmd performs the
// pipe/fork/dup2/close-parent-write-ends/execve sequence spec.md
// describes by hand; reusing it (as both edirooss-zmux-server's
// `process.go` and kornnellio-gosv's `proc.go` do) means a pre-exec
// syscall failure is returned synchronously from Start() itself
// (os/exec reports it over an internal pipe) rather than observed
// later as a distinguishable child exit status — a strictly better
// version of the same SpawnFailed guarantee.
func (p *ManagedProcess) spawn() error {
	cfg := p.group.config

	cmd := exec.Command(cfg.ExecPath, cfg.Argv[1:]...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = cfg.Environ(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if cfg.Umask != 0 {
		restore := syscall.Umask(cfg.Umask)
		defer syscall.Umask(restore)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	p.cmd = cmd
	p.stdoutPipe = stdout.(*os.File)
	p.stderrPipe = stderr.(*os.File)
	p.pid = cmd.Process.Pid
	p.startTS = time.Now()
	p.status = Status{Running: true}

	p.log.Info("spawned",
		zap.String("program", cfg.Name),
		zap.Int("replica", p.index),
		zap.Int("pid", p.pid))
	return nil
}

// signalStop sends signo to pid and records stop_ts (spec.md §4.1).
func (p *ManagedProcess) signalStop(signo syscall.Signal) error {
	if p.pid == 0 {
		return ErrAlreadyStopped
	}
	p.stopTS = time.Now()
	if err := syscall.Kill(-p.pid, signo); err != nil {
		p.log.Warn("signal failed", zap.Int("pid", p.pid), zap.Error(err))
		return err
	}
	return nil
}

// killHard sends KILL to the process group and marks killed.
func (p *ManagedProcess) killHard() {
	if p.pid == 0 {
		return
	}
	if err := syscall.Kill(-p.pid, syscall.SIGKILL); err != nil {
		p.log.Warn("SIGKILL failed", zap.Int("pid", p.pid), zap.Error(err))
	}
	p.status.Killed = true
}

// pollStatus performs a non-blocking wait and updates status. On exit
// it clears pid (preserving spec.md §9's chosen invariant:
// pid = none ⇔ status.running = false) and records exitstatus.
// Never blocks.
func (p *ManagedProcess) pollStatus() {
	if p.pid == 0 {
		return
	}
	var wstatus syscall.WaitStatus
	wpid, err := syscall.Wait4(p.pid, &wstatus, syscall.WNOHANG, nil)
	if err != nil || wpid == 0 {
		p.status.Running = true
		return
	}

	p.status.Running = false
	p.status.HasExitStatus = wstatus.Exited()
	if wstatus.Exited() {
		p.status.ExitStatus = wstatus.ExitStatus()
	} else if wstatus.Signaled() {
		p.status.ExitStatus = 128 + int(wstatus.Signal())
	}
	p.log.Info("reaped",
		zap.String("program", p.group.config.Name),
		zap.Int("replica", p.index),
		zap.Int("pid", p.pid),
		zap.Bool("exited", wstatus.Exited()),
		zap.Int("exit_status", p.status.ExitStatus))
	p.pid = 0
}

const pipeReadBufSize = 64 * 1024

// forwardOutput reads up to one buffer from the indicated pipe and
// fans it out to the group's file sink, this replica's tail buffer,
// and every attached session. Returns bytes read; 0 signals EOF.
func (p *ManagedProcess) forwardOutput(kind pipeKind) (int, error) {
	var f *os.File
	var sink *os.File
	switch kind {
	case pipeStdout:
		f = p.stdoutPipe
		sink = p.group.stdoutFile
	case pipeStderr:
		f = p.stderrPipe
		sink = p.group.stderrFile
	}
	if f == nil {
		return 0, nil
	}

	buf := make([]byte, pipeReadBufSize)
	n, err := f.Read(buf)
	if n > 0 {
		chunk := buf[:n]
		if sink != nil {
			_, _ = sink.Write(chunk)
		}
		for _, line := range strings.SplitAfter(string(chunk), "\n") {
			if line != "" {
				p.tail.Append(line)
			}
		}
		for s := range p.attachedSessions {
			s.writeOutput(chunk)
		}
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

// closePipes closes the parent-owned pipe read ends. Called at the
// Stopped first-tick action (spec.md §4.2), and by the Supervisor's
// drain step once a replica of a replaced or removed group is reaped.
func (p *ManagedProcess) closePipes() {
	if p.stdoutPipe != nil {
		_ = p.stdoutPipe.Close()
		p.stdoutPipe = nil
	}
	if p.stderrPipe != nil {
		_ = p.stderrPipe.Close()
		p.stderrPipe = nil
	}
}

// pipeFDs returns the read-end file descriptors currently open, for
// PollSet registration.
func (p *ManagedProcess) pipeFDs() (stdout, stderr *os.File) {
	return p.stdoutPipe, p.stderrPipe
}

// expectedExit reports whether the last observed exit code is in the
// program's exitcodes set (spec.md §4.1).
func (p *ManagedProcess) expectedExit() bool {
	_, ok := p.group.config.ExitCodes[p.status.ExitStatus]
	return ok
}

// needsAutoRestart implements spec.md §4.1's autorestart predicate.
func (p *ManagedProcess) needsAutoRestart() bool {
	switch p.group.config.AutoRestart {
	case config.AutoRestartTrue:
		return true
	case config.AutoRestartUnexpected:
		return !p.expectedExit()
	default:
		return false
	}
}

// runtime returns the duration since the last spawn.
func (p *ManagedProcess) runtime() time.Duration {
	if p.startTS.IsZero() {
		return 0
	}
	return time.Since(p.startTS)
}

// stopElapsed returns the duration since the stop signal was sent.
func (p *ManagedProcess) stopElapsed() time.Duration {
	if p.stopTS.IsZero() {
		return 0
	}
	return time.Since(p.stopTS)
}

type pipeKind int

const (
	pipeStdout pipeKind = iota
	pipeStderr
)
