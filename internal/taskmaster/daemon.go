package taskmaster

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lmnz/taskmasterd/internal/config"
)

// Options configures a Daemon (cmd/taskmasterd's flag surface).
type Options struct {
	ConfigPath   string
	SocketPath   string
	TickInterval time.Duration
}

// Daemon is the exported facade wiring every internal/taskmaster
// collaborator together: ProcessTable, PollSet, Reactor, Supervisor,
// CommandDispatcher, and Reconfigurer (spec.md §2's component list).
// cmd/taskmasterd constructs one Daemon and calls Run.
type Daemon struct {
	table         *ProcessTable
	poll          *PollSet
	wakeup        *wakeupPipe
	reactor       *Reactor
	supervisor    *Supervisor
	reconfigurer  *Reconfigurer
	log           *zap.Logger
	opts          Options
}

// NewDaemon parses the configuration file, builds the initial
// ProcessTable (every program's replicas start Waiting), and wires the
// Reactor/Supervisor/Dispatcher/Reconfigurer around it. It does not
// bind the control socket or start either loop — call Run for that.
func NewDaemon(opts Options, log *zap.Logger) (*Daemon, error) {
	cfg, err := config.ParseFile(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("taskmaster: initial config: %w", err)
	}

	table := newProcessTable()
	for _, pc := range cfg.Programs {
		g, err := newProcessGroup(pc, log)
		if err != nil {
			return nil, fmt.Errorf("taskmaster: program %q: %w", pc.Name, err)
		}
		table.Insert(pc.Name, g)
	}

	poll := newPollSet()
	wakeup, err := newWakeupPipe()
	if err != nil {
		return nil, fmt.Errorf("taskmaster: wakeup pipe: %w", err)
	}

	supervisor := newSupervisor(table, poll, wakeup, log, opts.TickInterval)
	reconfigurer := newReconfigurer(table, opts.ConfigPath, log)

	d := &Daemon{
		table:        table,
		poll:         poll,
		wakeup:       wakeup,
		supervisor:   supervisor,
		reconfigurer: reconfigurer,
		log:          log,
		opts:         opts,
	}

	dispatcher := newDispatcher(table, d.requestReload, d.requestQuit)
	d.reactor = newReactor(table, poll, wakeup, dispatcher, log, reconfigurer.Reconfigure)

	return d, nil
}

func (d *Daemon) requestReload() { d.reactor.RequestReload() }

func (d *Daemon) requestQuit() { d.supervisor.forceShutdown() }

// Run binds the control socket, starts the Supervisor on its own
// goroutine, and runs the Reactor's event loop on the calling
// goroutine until a `quit`/`exit` command (or a SIGTERM/SIGINT relayed
// by the caller via RequestQuit) completes the graceful-shutdown walk.
func (d *Daemon) Run() error {
	if err := d.reactor.Listen(d.opts.SocketPath); err != nil {
		return fmt.Errorf("taskmaster: listen: %w", err)
	}
	defer d.reactor.Close()

	go d.supervisor.Run()

	err := d.reactor.Run()

	d.supervisor.forceShutdown()
	for !d.supervisor.allStopped() {
		time.Sleep(20 * time.Millisecond)
	}
	d.supervisor.Stop()

	return err
}

// RequestReload triggers reconfiguration from outside the control
// channel — used by cmd/taskmasterd's SIGHUP handler.
func (d *Daemon) RequestReload() { d.requestReload() }

// RequestQuit triggers graceful shutdown from outside the control
// channel — used by cmd/taskmasterd's SIGTERM/SIGINT handler.
func (d *Daemon) RequestQuit() {
	d.requestQuit()
	d.reactor.mu.Lock()
	d.reactor.quitRequested = true
	d.reactor.mu.Unlock()
	d.wakeup.poke()
}

// Snapshot returns every live ProcessGroup in name order, for
// SIGUSR1-style introspection dumps (SPEC_FULL.md's go-spew supplement
// lives in cmd/taskmasterd, which dumps this structured form).
func (d *Daemon) Snapshot() []*ProcessGroup {
	d.table.Lock()
	defer d.table.Unlock()
	out := make([]*ProcessGroup, 0)
	d.table.Each(func(_ string, g *ProcessGroup) {
		out = append(out, g)
	})
	return out
}
