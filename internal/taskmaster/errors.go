package taskmaster

import "errors"

// Sentinel errors realizing spec.md §7's abstract error kinds.
var (
	// ErrAlreadyStopped is returned by signalStop when the replica has
	// no pid (spec.md §4.1).
	ErrAlreadyStopped = errors.New("taskmaster: already stopped")

	// ErrSpawnFailed wraps a fork/exec chain failure (spec.md §7,
	// SpawnFailed).
	ErrSpawnFailed = errors.New("taskmaster: spawn failed")

	// ErrNoSuchProcess is ControlProtocol's "unknown target name"
	// diagnostic (spec.md §4.4/§7).
	ErrNoSuchProcess = errors.New("taskmaster: no such process")

	// ErrUnknownCommand and ErrBadArity are ControlProtocol diagnostics
	// (spec.md §4.4/§7).
	ErrUnknownCommand = errors.New("taskmaster: unknown command")
	ErrBadArity       = errors.New("taskmaster: wrong number of arguments")

	// ErrConfigInvalid wraps a malformed configuration (spec.md §7).
	ErrConfigInvalid = errors.New("taskmaster: invalid configuration")
)
