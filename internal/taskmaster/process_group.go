package taskmaster

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lmnz/taskmasterd/internal/config"
)

// ProcessGroup is every replica spawned from one ProcessConfig
// (spec.md §3's numprocs fan-out), plus the group stdout/stderr sinks
// shared by all of them.
type ProcessGroup struct {
	config *config.ProcessConfig

	stdoutFile *os.File
	stderrFile *os.File

	replicas []*ManagedProcess
}

// newProcessGroup opens the group's stdout/stderr sinks (create +
// truncate, 0644, /dev/null when unset per spec.md §3) and allocates
// numprocs replicas, each Waiting.
func newProcessGroup(cfg *config.ProcessConfig, log *zap.Logger) (*ProcessGroup, error) {
	g := &ProcessGroup{config: cfg}

	stdoutPath := cfg.StdoutPath
	if stdoutPath == "" {
		stdoutPath = os.DevNull
	}
	stderrPath := cfg.StderrPath
	if stderrPath == "" {
		stderrPath = os.DevNull
	}

	var err error
	g.stdoutFile, err = os.OpenFile(stdoutPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("taskmaster: program %q: open stdout sink: %w", cfg.Name, err)
	}
	g.stderrFile, err = os.OpenFile(stderrPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		_ = g.stdoutFile.Close()
		return nil, fmt.Errorf("taskmaster: program %q: open stderr sink: %w", cfg.Name, err)
	}

	g.replicas = make([]*ManagedProcess, cfg.NumProcs)
	for i := range g.replicas {
		g.replicas[i] = newManagedProcess(g, i, log.With(
			zap.String("program", cfg.Name),
			zap.Int("replica", i)))
	}
	return g, nil
}

// Config returns the group's current configuration.
func (g *ProcessGroup) Config() *config.ProcessConfig { return g.config }

// Replicas returns every ManagedProcess in the group.
func (g *ProcessGroup) Replicas() []*ManagedProcess { return g.replicas }

// closeSinks closes the group's stdout/stderr sink files. Called by
// the Supervisor once every replica of a group that a reload replaced
// or removed has been reaped (spec.md §4.5 step 4).
func (g *ProcessGroup) closeSinks() {
	if g.stdoutFile != nil {
		_ = g.stdoutFile.Close()
	}
	if g.stderrFile != nil {
		_ = g.stderrFile.Close()
	}
}
