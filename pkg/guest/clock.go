package guest

import (
	"context"
	"sync"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/bus"
)

// VirtualClock counts guest nanoseconds. Time only moves through Advance,
// AdvanceTo or Run, and not at all while frozen.
type VirtualClock struct {
	mu     sync.Mutex
	now    uint64
	frozen int
	timers map[*clockTimer]struct{}
}

// NewVirtualClock returns a clock at time zero.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{timers: make(map[*clockTimer]struct{})}
}

// Now implements bus.Clock.
func (c *VirtualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Freeze implements bus.Clock. Calls nest.
func (c *VirtualClock) Freeze() {
	c.mu.Lock()
	c.frozen++
	c.mu.Unlock()
}

// Unfreeze implements bus.Clock.
func (c *VirtualClock) Unfreeze() {
	c.mu.Lock()
	if c.frozen > 0 {
		c.frozen--
	}
	c.mu.Unlock()
}

// Frozen reports whether time is currently stopped.
func (c *VirtualClock) Frozen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frozen > 0
}

// Advance moves time forward by d. It reports false and leaves time
// unchanged while the clock is frozen.
func (c *VirtualClock) Advance(d uint64) bool {
	c.mu.Lock()
	if c.frozen > 0 {
		c.mu.Unlock()
		return false
	}
	return c.moveLocked(c.now + d)
}

// AdvanceTo moves time forward to t. Earlier values are ignored.
func (c *VirtualClock) AdvanceTo(t uint64) bool {
	c.mu.Lock()
	if c.frozen > 0 || t < c.now {
		c.mu.Unlock()
		return false
	}
	return c.moveLocked(t)
}

// moveLocked sets the time, releases c.mu and fires due timers.
func (c *VirtualClock) moveLocked(t uint64) bool {
	c.now = t
	var due []func()
	for tm := range c.timers {
		if tm.deadline <= t {
			delete(c.timers, tm)
			due = append(due, tm.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	return true
}

// NextDeadline returns the earliest armed timer deadline.
func (c *VirtualClock) NextDeadline() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next uint64
	found := false
	for tm := range c.timers {
		if !found || tm.deadline < next {
			next, found = tm.deadline, true
		}
	}
	return next, found
}

// Run advances the clock by tick every tick of wall time, scaled by
// rate, until ctx ends. Frozen intervals are skipped, not caught up.
func (c *VirtualClock) Run(ctx context.Context, tick time.Duration, rate float64) {
	if rate <= 0 {
		rate = 1
	}
	step := uint64(float64(tick.Nanoseconds()) * rate)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Advance(step)
		}
	}
}

// NewTimer implements bus.Clock. fn runs in the goroutine that advances
// the clock; a deadline already in the past fires on the next advance.
func (c *VirtualClock) NewTimer(fn func()) bus.Timer {
	return &clockTimer{clock: c, fn: fn}
}

type clockTimer struct {
	clock    *VirtualClock
	fn       func()
	deadline uint64
}

func (t *clockTimer) Arm(deadline uint64) {
	t.clock.mu.Lock()
	t.deadline = deadline
	t.clock.timers[t] = struct{}{}
	t.clock.mu.Unlock()
}

func (t *clockTimer) Disarm() {
	t.clock.mu.Lock()
	delete(t.clock.timers, t)
	t.clock.mu.Unlock()
}

var _ bus.Clock = (*VirtualClock)(nil)
