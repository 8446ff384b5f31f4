package taskmaster

import (
	"fmt"
	"strconv"
	"strings"
)

// defaultTailLines and maxTailLines bound the `tail` supplement
// (SPEC_FULL.md §12).
const (
	defaultTailLines = 20
	maxTailLines     = tailBufferCap
)

// Dispatcher implements spec.md §4.4's CommandDispatcher: parse one
// request line, mutate the ProcessTable under its lock, and produce a
// reply. Commands never block on I/O — status/start/stop/restart/
// attach/detach/tail all complete synchronously against the table
// lock, matching spec.md §5's "commands are synchronous against M1."
type Dispatcher struct {
	table   *ProcessTable
	reload  func()
	quit    func()
}

func newDispatcher(table *ProcessTable, reload func(), quit func()) *Dispatcher {
	return &Dispatcher{table: table, reload: reload, quit: quit}
}

// Dispatch parses and executes one request line from sess, returning
// the reply to write back. It never returns an error: every failure
// mode is rendered into the reply text itself, per spec.md §4.4's
// "unknown commands ... respond with a diagnostic" contract.
func (d *Dispatcher) Dispatch(sess *ControlSession, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return diagnostic(ErrUnknownCommand, "")
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "status":
		if len(args) != 0 {
			return diagnostic(ErrBadArity, cmd)
		}
		return d.doStatus()

	case "start":
		return d.postCommand(cmd, args, PendingStart)
	case "stop":
		return d.postCommand(cmd, args, PendingStop)
	case "restart":
		return d.postCommand(cmd, args, PendingRestart)

	case "reload":
		if len(args) != 0 {
			return diagnostic(ErrBadArity, cmd)
		}
		d.reload()
		return "reload scheduled\n"

	case "quit", "exit":
		if len(args) != 0 {
			return diagnostic(ErrBadArity, cmd)
		}
		d.quit()
		return "goodbye\n"

	case "attach":
		return d.doAttachDetach(sess, cmd, args, true)
	case "detach":
		return d.doAttachDetach(sess, cmd, args, false)

	case "tail":
		return d.doTail(args)

	case "help":
		// spec.md §4.4: handled client-side; server ignores.
		return ""

	default:
		return diagnostic(ErrUnknownCommand, cmd)
	}
}

func (d *Dispatcher) postCommand(cmd string, args []string, pending PendingCommand) string {
	if len(args) != 1 {
		return diagnostic(ErrBadArity, cmd)
	}
	d.table.Lock()
	defer d.table.Unlock()

	g := d.table.Lookup(args[0])
	if g == nil {
		return diagnostic(ErrNoSuchProcess, args[0])
	}
	for _, p := range g.Replicas() {
		p.SetPendingCommand(pending)
	}
	return fmt.Sprintf("%s: ok\n", cmd)
}

func (d *Dispatcher) doAttachDetach(sess *ControlSession, cmd string, args []string, attach bool) string {
	if len(args) != 1 {
		return diagnostic(ErrBadArity, cmd)
	}
	d.table.Lock()
	defer d.table.Unlock()

	g := d.table.Lookup(args[0])
	if g == nil {
		return diagnostic(ErrNoSuchProcess, args[0])
	}
	for _, p := range g.Replicas() {
		if attach {
			p.Attach(sess)
			sess.track(p)
		} else {
			p.Detach(sess)
			sess.untrack(p)
		}
	}
	return fmt.Sprintf("%s: ok\n", cmd)
}

func (d *Dispatcher) doTail(args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return diagnostic(ErrBadArity, "tail")
	}
	n := defaultTailLines
	if len(args) == 2 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 1 {
			return diagnostic(ErrBadArity, "tail")
		}
		n = v
	}
	if n > maxTailLines {
		n = maxTailLines
	}

	d.table.Lock()
	defer d.table.Unlock()

	g := d.table.Lookup(args[0])
	if g == nil {
		return diagnostic(ErrNoSuchProcess, args[0])
	}

	var b strings.Builder
	for _, p := range g.Replicas() {
		lines := p.Tail(n)
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "== %s:%d ==\n", g.Config().Name, p.index)
		for _, l := range lines {
			b.WriteString(l)
		}
	}
	return b.String()
}

func diagnostic(kind error, detail string) string {
	if detail == "" {
		return fmt.Sprintf("error: %v\n", kind)
	}
	return fmt.Sprintf("error: %v: %s\n", kind, detail)
}
