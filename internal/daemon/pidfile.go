// Package daemon provides daemonization and PID-file locking for
// cmd/taskmasterd, grounded on abligh-goms/smtpd's Control/RunConfig
// daemonization pattern (SPEC_FULL.md §15.1).
package daemon

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// PIDFile holds an exclusive advisory lock on the daemon's PID file
// for the lifetime of the process, preventing two taskmasterd
// instances from running against the same file concurrently.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// Acquire opens path, takes an exclusive non-blocking lock, truncates
// it, and writes the current PID. Failing the lock means another
// instance already owns it — spec.md §6/§7's "already-running" case.
func Acquire(path string) (*PIDFile, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("daemon: locking pidfile %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("daemon: taskmasterd already running (pidfile %q is locked)", path)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("daemon: writing pidfile %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("daemon: writing pidfile %q: %w", path, err)
	}

	return &PIDFile{path: path, lock: lock}, nil
}

// Release unlocks and removes the PID file. Registered as a deferred
// cleanup before the Reactor starts, per SPEC_FULL.md §15.1.
func (p *PIDFile) Release() {
	_ = p.lock.Unlock()
	_ = os.Remove(p.path)
}
