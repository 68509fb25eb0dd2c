package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/roach88/satisfy/internal/clock"
)

// FakeClock is a manually advanced clock.Clock for tests.
//
// Time only moves when Advance or AdvanceTo is called. Timers that come due
// during an advance fire one at a time, in deadline order (ties in creation
// order), synchronously on the advancing goroutine and with the clock's lock
// released, so a callback may schedule further timers.
//
// A timer created with a non-positive duration is due immediately but still
// waits for the next Advance, which is how tests observe "next turn, never
// inline" behaviour: Advance(0) runs it.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int64
	pending []*fakeTimer
}

type fakeTimer struct {
	clock *FakeClock
	id    int64
	at    time.Time
	f     func()
	done  bool
}

// Epoch is the default start time of a FakeClock: 2024-01-01T00:00:00Z.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFakeClock creates a fake clock at the given time.
// A zero start time means Epoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the clock has advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d < 0 {
		d = 0
	}
	c.nextID++
	t := &fakeTimer{clock: c, id: c.nextID, at: c.now.Add(d), f: f}
	c.pending = append(c.pending, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (c *FakeClock) Advance(d time.Duration) {
	c.AdvanceTo(c.Now().Add(d))
}

// AdvanceTo moves the clock forward to target, firing every timer due at or
// before it. Moving backwards is not allowed; an earlier target only fires
// timers that are already due.
func (c *FakeClock) AdvanceTo(target time.Time) {
	for {
		t := c.popDue(target)
		if t == nil {
			return
		}
		t.f()
	}
}

// popDue removes and returns the earliest timer due at or before
// max(target, now) and moves the clock to its deadline. When none is due the clock moves to
// target and nil is returned.
func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if target.Before(c.now) {
		target = c.now
	}

	sort.SliceStable(c.pending, func(i, j int) bool {
		if c.pending[i].at.Equal(c.pending[j].at) {
			return c.pending[i].id < c.pending[j].id
		}
		return c.pending[i].at.Before(c.pending[j].at)
	})

	if len(c.pending) == 0 || c.pending[0].at.After(target) {
		if target.After(c.now) {
			c.now = target
		}
		return nil
	}

	t := c.pending[0]
	c.pending = c.pending[1:]
	t.done = true
	if t.at.After(c.now) {
		c.now = t.at
	}
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop implements clock.Timer.
func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	return true
}
