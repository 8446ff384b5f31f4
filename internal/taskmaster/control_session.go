package taskmaster

import (
	"bufio"
	"net"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// ControlSession is one connected control-channel client (spec.md §3):
// a socket, a correlation id, and the set of replicas it is currently
// attached to for output mirroring. Grounded on edirooss-zmux-server's
// request-id middleware (internal/http/middleware/request_id.go),
// which stamps every inbound request with a github.com/google/uuid
// value; here the id instead correlates a whole session's lifetime,
// since the control channel is a persistent connection, not discrete
// HTTP requests.
type ControlSession struct {
	ID   uuid.UUID
	conn net.Conn
	w    *bufio.Writer

	mu       sync.Mutex
	attached map[*ManagedProcess]struct{}
}

func newControlSession(conn net.Conn) *ControlSession {
	return &ControlSession{
		ID:       uuid.New(),
		conn:     conn,
		w:        bufio.NewWriter(conn),
		attached: make(map[*ManagedProcess]struct{}),
	}
}

// FD returns the underlying descriptor for PollSet registration.
func (s *ControlSession) FD() int {
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return -1
	}
	return rawFD(sc)
}

// writeOutput mirrors a chunk of child output to the session. Errors
// are swallowed here; the Reactor discovers a dead session via its
// own read/poll error path and disconnects it.
func (s *ControlSession) writeOutput(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(chunk)
	_ = s.w.Flush()
}

// WriteFrame writes one complete reply frame (spec.md §4.4's
// request/reply framing) to the session.
func (s *ControlSession) WriteFrame(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.Flush()
}

// track records that this session is attached to p, for cleanup on
// disconnect.
func (s *ControlSession) track(p *ManagedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[p] = struct{}{}
}

// untrack removes p from this session's attachment set.
func (s *ControlSession) untrack(p *ManagedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, p)
}

// AttachedTo returns every replica this session is currently attached
// to, for use when the session disconnects (spec.md §4.3).
func (s *ControlSession) AttachedTo() []*ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ManagedProcess, 0, len(s.attached))
	for p := range s.attached {
		out = append(out, p)
	}
	return out
}

// Close closes the underlying connection.
func (s *ControlSession) Close() error {
	return s.conn.Close()
}
