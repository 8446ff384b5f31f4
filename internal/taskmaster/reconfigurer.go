package taskmaster

import (
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lmnz/taskmasterd/internal/config"
)

// Reconfigurer implements spec.md §4.5's parse/diff/swap sequence.
// Reload requests that reach the Reactor within one pass (an operator
// double-tapping `reload`, or a SIGHUP racing a `reload` command) are
// already merged by the Reactor's reload latch into one Reconfigure
// call. golang.org/x/sync/singleflight additionally merges calls that
// overlap in time; requests in separate Reactor passes each run their
// own parse+diff+swap pass.
type Reconfigurer struct {
	table    *ProcessTable
	path     string
	log      *zap.Logger
	group    singleflight.Group
}

func newReconfigurer(table *ProcessTable, path string, log *zap.Logger) *Reconfigurer {
	return &Reconfigurer{table: table, path: path, log: log}
}

// Reconfigure runs spec.md §4.5 steps 1-5 under the ProcessTable lock.
func (rc *Reconfigurer) Reconfigure() error {
	_, err, _ := rc.group.Do("reload", func() (interface{}, error) {
		return nil, rc.reconfigure()
	})
	return err
}

func (rc *Reconfigurer) reconfigure() error {
	cfg, err := config.ParseFile(rc.path)
	if err != nil {
		rc.log.Warn("reconfigure: parse failed, keeping existing table", zap.Error(err))
		return err
	}

	rc.table.Lock()
	defer rc.table.Unlock()

	live := rc.table.MoveOut()
	candidate := make(map[string]*ProcessGroup, len(cfg.Programs))

	for _, pc := range cfg.Programs {
		if old, ok := live[pc.Name]; ok && old.Config().Equal(pc) {
			// Unchanged: carry the live group (and its pids/state) over
			// verbatim, preserving pid continuity (spec.md §4.5 step 3).
			candidate[pc.Name] = old
			delete(live, pc.Name)
			continue
		}
		g, err := newProcessGroup(pc, rc.log)
		if err != nil {
			rc.log.Warn("reconfigure: skipping program", zap.String("program", pc.Name), zap.Error(err))
			continue
		}
		candidate[pc.Name] = g
	}

	// Step 4: anything left in `live` either was removed from the config
	// or had its configuration change (and so was rebuilt fresh above
	// instead of reused); stop it hard and hand it to the Supervisor's
	// drain list. killHard only sends SIGKILL — it does not reap — so
	// the group is kept there (not discarded) until every replica is
	// confirmed reaped on a later tick; only then are its sinks closed.
	// Discarding it here instead would leak one zombie per replica,
	// since nothing else ever calls Wait4 on these pids again.
	for name, g := range live {
		rc.log.Info("reconfigure: stopping replaced/removed program", zap.String("program", name))
		for _, p := range g.Replicas() {
			p.killHard()
		}
		rc.table.AddDrain(g)
	}

	// Step 5: the all-or-nothing swap. Fresh candidate groups start
	// every replica in Waiting; the ordinary state machine spawns them
	// on the next Supervisor tick according to autostart, exactly as it
	// would at initial daemon startup.
	for name, g := range candidate {
		rc.table.Insert(name, g)
	}
	return nil
}
