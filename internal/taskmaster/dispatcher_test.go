package taskmaster

import (
	"strings"
	"testing"
)

func TestDispatchUnknownCommand(t *testing.T) {
	d := newDispatcher(newProcessTable(), func() {}, func() {})
	reply := d.Dispatch(nil, "bogus")
	if !containsAll(reply, "error", "unknown command") {
		t.Errorf("Dispatch(bogus) = %q, want unknown-command diagnostic", reply)
	}
}

func TestDispatchArityViolation(t *testing.T) {
	d := newDispatcher(newProcessTable(), func() {}, func() {})
	reply := d.Dispatch(nil, "status extra-arg")
	if !containsAll(reply, "error", "wrong number of arguments") {
		t.Errorf("Dispatch(status extra-arg) = %q, want arity diagnostic", reply)
	}
}

func TestDispatchNoSuchProcess(t *testing.T) {
	d := newDispatcher(newProcessTable(), func() {}, func() {})
	reply := d.Dispatch(nil, "start missing")
	if !containsAll(reply, "error", "no such process") {
		t.Errorf("Dispatch(start missing) = %q, want no-such-process diagnostic", reply)
	}
}

func TestDispatchStartPostsPendingCommand(t *testing.T) {
	tbl := newProcessTable()
	g := testGroup(t, 3, 0)
	g.replicas = []*ManagedProcess{newManagedProcess(g, 0, nil)}
	tbl.Insert("web", g)

	d := newDispatcher(tbl, func() {}, func() {})
	reply := d.Dispatch(nil, "start web")
	if containsAll(reply, "error") {
		t.Fatalf("Dispatch(start web) = %q, want success", reply)
	}
	if g.replicas[0].PendingCommand() != PendingStart {
		t.Errorf("PendingCommand = %v, want PendingStart", g.replicas[0].PendingCommand())
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
