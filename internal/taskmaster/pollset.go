package taskmaster

import (
	"sync"

	"golang.org/x/sys/unix"
)

// fdTag classifies a watched descriptor (spec.md §4.6).
type fdTag int

const (
	TagListener fdTag = iota
	TagClientSession
	TagChildPipe
	TagWakeUp
)

// fdEntry is one PollSet member: a descriptor, its poll event mask,
// and an opaque tag payload the Reactor uses to dispatch readiness.
type fdEntry struct {
	FD     int
	Events int16
	Tag    fdTag
	// Owner correlates a ChildPipe entry back to its ManagedProcess and
	// pipeKind, or a ClientSession entry back to its session. Untyped on
	// purpose: PollSet only moves bytes and tags, never interprets them.
	Owner interface{}
}

// PollSet is the parallel (descriptor, events, tag) sequence the
// Reactor blocks on, protected by its own mutex M2 (spec.md §4.6/§5).
// The Supervisor thread takes M2 only for add/remove; the Reactor
// takes M2 only to copy a snapshot before blocking, never while
// blocked — this keeps a Supervisor tick from ever stalling behind a
// descriptor-readiness wait (spec.md §5's lock-ordering invariant,
// M1 before M2, never held across the blocking call).
type PollSet struct {
	mu      sync.Mutex
	entries map[int]*fdEntry
}

func newPollSet() *PollSet {
	return &PollSet{entries: make(map[int]*fdEntry)}
}

// Add registers fd under M2.
func (p *PollSet) Add(fd int, events int16, tag fdTag, owner interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[fd] = &fdEntry{FD: fd, Events: events, Tag: tag, Owner: owner}
}

// Remove unregisters fd under M2. No-op if absent.
func (p *PollSet) Remove(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, fd)
}

// snapshot copies the current entries into a unix.PollFd slice plus a
// parallel tag/owner slice, so the Reactor can block on Poll without
// holding M2.
func (p *PollSet) snapshot() ([]unix.PollFd, []*fdEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pfds := make([]unix.PollFd, 0, len(p.entries))
	tags := make([]*fdEntry, 0, len(p.entries))
	for _, e := range p.entries {
		pfds = append(pfds, unix.PollFd{Fd: int32(e.FD), Events: e.Events})
		tags = append(tags, e)
	}
	return pfds, tags
}

// Poll blocks until at least one watched descriptor is ready (no
// timeout, matching spec.md §4.3's "no timeout" event loop), then
// returns the entries whose Revents is non-zero.
func (p *PollSet) Poll() ([]*fdEntry, error) {
	pfds, tags := p.snapshot()
	if len(pfds) == 0 {
		// Nothing registered yet (Reactor.Listen, which registers the
		// listener and the wake-up pipe, has not run): fall back to a
		// short blocking poll and let the caller re-snapshot.
		_, err := unix.Poll(nil, 50)
		if err != nil && err != unix.EINTR {
			return nil, err
		}
		return nil, nil
	}

	n, err := unix.Poll(pfds, -1)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	ready := make([]*fdEntry, 0, n)
	for i, pfd := range pfds {
		if pfd.Revents != 0 {
			ready = append(ready, tags[i])
		}
	}
	return ready, nil
}
