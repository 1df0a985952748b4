package epoch

import (
	"sync"
	"time"
)

// Clock supplies the current time to the phase gate.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a settable clock for tests and replay tooling.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock returns a clock frozen at the given unix second.
func NewManualClock(unix int64) *ManualClock {
	return &ManualClock{now: time.Unix(unix, 0).UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to the given unix second.
func (c *ManualClock) Set(unix int64) {
	c.mu.Lock()
	c.now = time.Unix(unix, 0).UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Unix reads the clock in unix seconds, the resolution schedules use.
func Unix(c Clock) int64 {
	if c == nil {
		return time.Now().Unix()
	}
	return c.Now().Unix()
}
