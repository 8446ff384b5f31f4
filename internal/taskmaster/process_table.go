package taskmaster

import (
	"sort"
	"sync"
)

// ProcessTable is the keyed collection of ProcessGroups (spec.md §3),
// protected by mutex M1 (spec.md §5). Both the Supervisor tick and
// every CommandDispatcher handler take mu for the duration of their
// work; there is no nested lock beneath it other than PollSet's M2,
// always acquired after M1 (spec.md §5's lock ordering).
type ProcessTable struct {
	mu     sync.Mutex
	groups map[string]*ProcessGroup

	// drain holds groups a reload replaced or removed (spec.md §4.5
	// step 4): killHard() has already been sent to every replica, but
	// they are not yet reaped. The Supervisor keeps polling them here
	// with the same pollStatus used for live replicas, until every one
	// has been reaped, so a reload never orphans a zombie.
	drain []*ProcessGroup
}

func newProcessTable() *ProcessTable {
	return &ProcessTable{groups: make(map[string]*ProcessGroup)}
}

// Lock acquires M1.
func (t *ProcessTable) Lock() { t.mu.Lock() }

// Unlock releases M1.
func (t *ProcessTable) Unlock() { t.mu.Unlock() }

// Insert adds or replaces the group at name. Caller holds M1.
func (t *ProcessTable) Insert(name string, g *ProcessGroup) {
	t.groups[name] = g
}

// Delete removes the group at name, returning it (or nil). Caller
// holds M1.
func (t *ProcessTable) Delete(name string) *ProcessGroup {
	g := t.groups[name]
	delete(t.groups, name)
	return g
}

// Lookup returns the group at name, or nil. Caller holds M1.
func (t *ProcessTable) Lookup(name string) *ProcessGroup {
	return t.groups[name]
}

// Names returns every program name, sorted, for deterministic
// iteration (status listing, reconfiguration diffing). Caller holds
// M1.
func (t *ProcessTable) Names() []string {
	names := make([]string, 0, len(t.groups))
	for name := range t.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Each walks every group in deterministic name order. Caller holds
// M1; fn must not re-enter the table.
func (t *ProcessTable) Each(fn func(name string, g *ProcessGroup)) {
	for _, name := range t.Names() {
		fn(name, t.groups[name])
	}
}

// MoveOut removes and returns every group, clearing the table.
// Used by the Reconfigurer (spec.md §4.5) to take an exclusive
// snapshot of the live table while computing a diff; groups decided
// to be carried over are reinserted, the rest torn down. Caller holds
// M1.
func (t *ProcessTable) MoveOut() map[string]*ProcessGroup {
	out := t.groups
	t.groups = make(map[string]*ProcessGroup, len(out))
	return out
}

// AddDrain appends a killed-but-not-yet-reaped group to the drain
// list. Caller holds M1.
func (t *ProcessTable) AddDrain(g *ProcessGroup) {
	t.drain = append(t.drain, g)
}

// DrainGroups returns the groups still awaiting full reap. Caller
// holds M1.
func (t *ProcessTable) DrainGroups() []*ProcessGroup {
	return t.drain
}

// SetDrainGroups replaces the drain list, used by the Supervisor to
// drop groups once every replica has been reaped. Caller holds M1.
func (t *ProcessTable) SetDrainGroups(gs []*ProcessGroup) {
	t.drain = gs
}
