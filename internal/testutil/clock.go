package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/keepsake-dev/keepsake/internal/clock"
)

// FakeClock is a manually advanced clock. Scheduled callbacks run
// synchronously inside Advance, in due-time order. Safe for concurrent use.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
}

var _ clock.Clock = (*FakeClock)(nil)

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// FixedClock returns a FakeClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *FakeClock {
	return NewFakeClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.schedule(d, 0, f)
}

func (c *FakeClock) Every(d time.Duration, f func()) clock.Timer {
	return c.schedule(d, d, f)
}

func (c *FakeClock) schedule(d, period time.Duration, f func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), period: period, f: f, seq: c.seq}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every callback that becomes
// due along the way.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		if next.period > 0 {
			next.at = next.at.Add(next.period)
		} else {
			c.remove(next)
		}
		f := next.f
		c.mu.Unlock()

		f()
	}
}

// Set jumps the clock to t without firing timers. Use it only to position
// history timestamps, not to drive schedules.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// PendingTimers returns the number of scheduled callbacks not yet stopped.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *FakeClock) nextDue(target time.Time) *fakeTimer {
	due := make([]*fakeTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (c *FakeClock) remove(t *fakeTimer) bool {
	for i, existing := range c.timers {
		if existing == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	clock  *FakeClock
	at     time.Time
	period time.Duration
	f      func()
	seq    int
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.clock.remove(t)
}
