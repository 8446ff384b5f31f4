package taskmaster

import (
	"time"

	"github.com/cenkalti/backoff"
)

// cooldown paces autorestart attempts (SPEC_FULL.md §5.1). spec.md's
// restart table is silent on pacing — it restarts immediately on
// every unexpected exit, which can spin a crash-looping child at full
// CPU. We adapt the teacher's ProcessManager2 restart-cooldown timer
// (itself a fixed per-process duration) into an exponential backoff
// using the pack's github.com/cenkalti/backoff, bounded by the
// program's configured restart_cooldown as the backoff's base
// interval. A zero-valued RestartCooldown disables pacing entirely,
// preserving spec.md's literal immediate-restart behavior.
type cooldown struct {
	base   time.Duration
	policy backoff.BackOff
	until  time.Time
}

func newCooldown(base time.Duration) *cooldown {
	c := &cooldown{base: base}
	c.reset()
	return c
}

func (c *cooldown) reset() {
	if c.base <= 0 {
		c.policy = nil
		c.until = time.Time{}
		return
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.base
	eb.MaxInterval = 30 * c.base
	eb.MaxElapsedTime = 0
	eb.Reset()
	c.policy = eb
}

// arm schedules the next eligible restart time after a failed or
// exited attempt. No-op when pacing is disabled.
func (c *cooldown) arm() {
	if c.policy == nil {
		return
	}
	c.until = time.Now().Add(c.policy.NextBackOff())
}

// ready reports whether enough time has elapsed to attempt another
// spawn.
func (c *cooldown) ready() bool {
	if c.policy == nil {
		return true
	}
	return !time.Now().Before(c.until)
}
