// Package clock abstracts wall-clock time and scheduled callbacks so the
// commit scheduler can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and cancellable scheduled tasks.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once, in its own goroutine, after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// Every calls f repeatedly, once per period d, until the returned
	// Timer is stopped.
	Every(d time.Duration, f func()) Timer
}

// Timer is a scheduled task that can be cancelled.
type Timer interface {
	// Stop prevents any further calls. It reports whether the call
	// stopped a pending invocation.
	Stop() bool
}

// Real is a Clock backed by the time package.
type Real struct{}

// New returns the real clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) Every(d time.Duration, f func()) Timer {
	t := &ticker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.loop(f)
	return t
}

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) loop(f func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			f()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
