package core

import (
	"time"
)

// MonotonicClock stamps invocations. A reading earlier than the previous
// stamp is raised to it, so rounds never observe time running backwards
// after an NTP step or a failover to a replica with a lagging clock.
// Not thread-safe; only accessed from the executor goroutine.
type MonotonicClock struct {
	source func() time.Time
	last   time.Time

	adjustments int64
}

func NewMonotonicClock(source func() time.Time) *MonotonicClock {
	if source == nil {
		source = time.Now
	}
	return &MonotonicClock{source: source}
}

// Stamp returns the time for the next invocation and whether the source
// reading had to be raised.
func (c *MonotonicClock) Stamp() (time.Time, bool) {
	now := c.source()
	if now.Before(c.last) {
		c.adjustments++
		return c.last, true
	}
	c.last = now
	return now, false
}

// Restore sets the floor after recovery, typically the invoked_at of the
// last persisted receipt.
func (c *MonotonicClock) Restore(last time.Time) {
	if last.After(c.last) {
		c.last = last
	}
}

// Adjustments returns how many readings were raised.
func (c *MonotonicClock) Adjustments() int64 {
	return c.adjustments
}
