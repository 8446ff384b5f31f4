package taskmaster

import (
	"bytes"
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// wakeupPipe is the self-pipe trick of spec.md §4.3/§9: the Supervisor
// writes one byte whenever it mutates the PollSet or wants the Reactor
// to re-snapshot; the Reactor's read end is registered as TagWakeUp.
type wakeupPipe struct {
	r, w *os.File
}

func newWakeupPipe() (*wakeupPipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &wakeupPipe{r: r, w: w}, nil
}

func (p *wakeupPipe) poke() {
	_, _ = p.w.Write([]byte{0})
}

// drain consumes pending wake-up bytes with a single read. Poll reported
// the pipe readable, so this read does not block; a second read on the
// emptied pipe would. Bytes beyond one buffer keep the pipe readable and
// are consumed on the next pass.
func (p *wakeupPipe) drain() {
	buf := make([]byte, 64)
	_, _ = p.r.Read(buf)
}

// childPipeOwner tags a ChildPipe PollSet entry with the replica and
// pipe kind it belongs to, so the Reactor can route readiness to
// forwardOutput without a reverse-lookup.
type childPipeOwner struct {
	proc *ManagedProcess
	kind pipeKind
}

// sessionEntry tags a ClientSession PollSet entry. buf accumulates
// whatever a single non-blocking read returns across RunOnce calls,
// since poll(2) readiness only guarantees one read's worth of bytes,
// not a complete line (spec.md §4.3: the Reactor must only ever
// suspend in the readiness block, never mid-request on one session).
type sessionEntry struct {
	sess *ControlSession
	buf  []byte
}

// Reactor is spec.md §4.3's single-threaded I/O event loop.
type Reactor struct {
	table      *ProcessTable
	poll       *PollSet
	wakeup     *wakeupPipe
	dispatcher *Dispatcher
	log        *zap.Logger

	listener *net.UnixListener
	sockPath string

	mu           sync.Mutex
	sessions     map[int]*sessionEntry
	reloadLatch  bool
	pendingAcks  []*ControlSession
	quitRequested bool

	reconfigure func() error
}

func newReactor(table *ProcessTable, poll *PollSet, wakeup *wakeupPipe, dispatcher *Dispatcher, log *zap.Logger, reconfigure func() error) *Reactor {
	return &Reactor{
		table:       table,
		poll:        poll,
		wakeup:      wakeup,
		dispatcher:  dispatcher,
		log:         log,
		sessions:    make(map[int]*sessionEntry),
		reconfigure: reconfigure,
	}
}

// Listen binds the control-channel Unix socket at path, mode 0666
// (spec.md §6), and registers it with the PollSet.
func (r *Reactor) Listen(path string) error {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o666); err != nil {
		_ = l.Close()
		return err
	}
	r.listener = l.(*net.UnixListener)
	r.sockPath = path

	fd := rawFD(r.listener)
	r.poll.Add(fd, pollReadable, TagListener, nil)

	wfd := int(r.wakeup.r.Fd())
	r.poll.Add(wfd, pollReadable, TagWakeUp, nil)
	return nil
}

// Close tears down the listener and removes the socket file.
func (r *Reactor) Close() {
	if r.listener != nil {
		_ = r.listener.Close()
		_ = os.Remove(r.sockPath)
	}
}

// RequestReload latches the reload flag; read by Run on its next pass
// through the ready-fd loop. Safe to call from a signal handler's
// deferred normal-context work (SIGHUP).
func (r *Reactor) RequestReload() {
	r.mu.Lock()
	r.reloadLatch = true
	r.mu.Unlock()
	r.wakeup.poke()
}

// QuitRequested reports whether a quit/exit command has been
// processed, for the owning goroutine to observe and begin shutdown.
func (r *Reactor) QuitRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quitRequested
}

// RunOnce blocks for one Poll() cycle and processes whatever is
// ready. Run calls this in a loop; split out so tests can drive one
// iteration at a time.
func (r *Reactor) RunOnce() error {
	ready, err := r.poll.Poll()
	if err != nil {
		return err
	}

	for _, entry := range ready {
		switch entry.Tag {
		case TagListener:
			r.acceptOne()
		case TagWakeUp:
			r.wakeup.drain()
		case TagClientSession:
			r.serviceSession(entry)
		case TagChildPipe:
			r.serviceChildPipe(entry)
		}
	}

	r.mu.Lock()
	reload := r.reloadLatch
	r.reloadLatch = false
	acks := r.pendingAcks
	r.pendingAcks = nil
	r.mu.Unlock()

	if reload && r.reconfigure != nil {
		if err := r.reconfigure(); err != nil {
			r.log.Warn("reconfigure failed", zap.Error(err))
		}
		for _, s := range acks {
			_ = s.WriteFrame([]byte("reload: ok\n"))
		}
	}
	return nil
}

// Run loops RunOnce until QuitRequested becomes true.
func (r *Reactor) Run() error {
	for !r.QuitRequested() {
		if err := r.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reactor) acceptOne() {
	conn, err := r.listener.Accept()
	if err != nil {
		r.log.Warn("accept failed", zap.Error(err))
		return
	}
	sess := newControlSession(conn)
	fd := sess.FD()
	entry := &sessionEntry{sess: sess}

	r.mu.Lock()
	r.sessions[fd] = entry
	r.mu.Unlock()

	r.poll.Add(fd, pollReadable, TagClientSession, entry)
	r.log.Info("client connected", zap.String("session", sess.ID.String()))
}

const sessionReadChunk = 4096

// serviceSession performs exactly one non-blocking read per readiness
// notification and appends whatever came back to the session's
// buffer, then dispatches every complete (newline-terminated) line it
// now holds. poll(2) guarantees at least one byte is available, not a
// full line, so a client that sends a partial command and pauses must
// not stall this goroutine waiting for the rest of it — that would
// block servicing of every other ready fd in the same RunOnce batch
// (spec.md §4.3/§5: the Reactor suspends only in the readiness block).
func (r *Reactor) serviceSession(entry *fdEntry) {
	se := entry.Owner.(*sessionEntry)

	buf := make([]byte, sessionReadChunk)
	n, err := se.sess.conn.Read(buf)
	if n > 0 {
		se.buf = append(se.buf, buf[:n]...)
	}

	for {
		idx := bytes.IndexByte(se.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(se.buf[:idx]), "\r")
		se.buf = se.buf[idx+1:]
		if !r.dispatchLine(entry.FD, se, line) {
			return
		}
	}

	if err != nil {
		r.disconnect(entry.FD, se)
	}
}

// dispatchLine handles one complete command line already stripped of
// its trailing newline. Returns false if the session was disconnected
// while handling it, so the caller stops processing any further lines
// already buffered for it.
func (r *Reactor) dispatchLine(fd int, se *sessionEntry, line string) bool {
	if line == "" {
		return true
	}

	reply := r.dispatcher.Dispatch(se.sess, line)

	fields := strings.Fields(line)
	bare := len(fields) == 1
	if bare && fields[0] == "reload" {
		r.mu.Lock()
		r.pendingAcks = append(r.pendingAcks, se.sess)
		r.mu.Unlock()
		return true
	}
	if bare && (fields[0] == "quit" || fields[0] == "exit") {
		r.mu.Lock()
		r.quitRequested = true
		r.mu.Unlock()
	}

	if reply != "" {
		if err := se.sess.WriteFrame([]byte(reply)); err != nil {
			r.disconnect(fd, se)
			return false
		}
	}
	return true
}

func (r *Reactor) disconnect(fd int, se *sessionEntry) {
	r.poll.Remove(fd)
	r.mu.Lock()
	delete(r.sessions, fd)
	r.mu.Unlock()

	r.table.Lock()
	for _, p := range se.sess.AttachedTo() {
		p.detachSession(se.sess)
	}
	r.table.Unlock()

	_ = se.sess.Close()
	r.log.Info("client disconnected", zap.String("session", se.sess.ID.String()))
}

func (r *Reactor) serviceChildPipe(entry *fdEntry) {
	owner := entry.Owner.(childPipeOwner)

	r.table.Lock()
	n, err := owner.proc.forwardOutput(owner.kind)
	r.table.Unlock()

	if err != nil || n == 0 {
		// EOF or error: the Supervisor unregisters this fd at the
		// replica's next Stopped transition (spec.md §4.3); nothing
		// further to do here.
		return
	}
}
