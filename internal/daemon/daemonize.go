package daemon

import (
	"fmt"

	"github.com/sevlyar/go-daemon"
)

// Options configures Daemonize.
type Options struct {
	PIDFile    string
	LogFile    string
	WorkDir    string
	Umask      int
}

// Daemonize re-execs the current process into the background via
// github.com/sevlyar/go-daemon, matching abligh-goms/smtpd's
// RunConfig daemonization path (SPEC_FULL.md §15.1). It returns
// (true, nil, nil) in the original foreground process — the caller
// should exit immediately — or (false, release, nil) in the
// backgrounded child, which should continue starting the daemon and
// call release() on clean shutdown. go-daemon itself owns the PID
// file's path for its reexec bookkeeping; the exclusive lock used to
// detect an already-running instance is taken separately via
// Acquire, since go-daemon's own PID file handling does not perform
// locking.
func Daemonize(opt Options) (isParent bool, release func(), err error) {
	ctx := &daemon.Context{
		PidFileName: opt.PIDFile,
		PidFilePerm: 0o644,
		LogFileName: opt.LogFile,
		LogFilePerm: 0o640,
		WorkDir:     opt.WorkDir,
		Umask:       opt.Umask,
	}

	child, err := ctx.Reborn()
	if err != nil {
		return false, nil, fmt.Errorf("daemon: reborn: %w", err)
	}
	if child != nil {
		// Parent: the daemon is now running in the background.
		return true, nil, nil
	}
	return false, func() { _ = ctx.Release() }, nil
}
