package taskmaster

import (
	"fmt"
	"strings"
)

// doStatus renders spec.md §6's status response: one section per
// group, each replica as "(pid) - (State)[ - annotation]*".
func (d *Dispatcher) doStatus() string {
	d.table.Lock()
	defer d.table.Unlock()

	var b strings.Builder
	d.table.Each(func(name string, g *ProcessGroup) {
		fmt.Fprintf(&b, "%s:\n", name)
		for _, p := range g.Replicas() {
			fmt.Fprintf(&b, "  %s\n", renderReplica(p))
		}
	})
	return b.String()
}

// renderReplica formats one replica line per spec.md §6.
func renderReplica(p *ManagedProcess) string {
	pidField := "none"
	if p.pid != 0 {
		pidField = fmt.Sprintf("%d", p.pid)
	}

	line := fmt.Sprintf("(%s) - (%s)", pidField, p.state)

	if p.state != Stopped {
		return line
	}
	for _, ann := range stoppedAnnotations(p) {
		line += " - " + ann
	}
	return line
}

// stoppedAnnotations implements spec.md §6's three annotations:
// "exited unexpectedly", "killed", "aborted". All three predicates
// are independent and may co-occur (e.g. a killed replica that also
// exceeded startretries while flapping).
func stoppedAnnotations(p *ManagedProcess) []string {
	var out []string
	if p.status.HasExitStatus && !p.expectedExit() {
		out = append(out, "exited unexpectedly")
	}
	if p.status.Killed {
		out = append(out, "killed")
	}
	if p.numRetries > p.group.config.StartRetries {
		out = append(out, "aborted")
	}
	return out
}
