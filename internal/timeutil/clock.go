// Package timeutil lets code that sleeps, paces or ticks run against a
// manual clock in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the pipeline depends on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Until(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is a one-shot timer.
type Timer interface {
	C() <-chan time.Time
	// Stop reports whether the timer was still pending.
	Stop() bool
}

// Ticker fires every period until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) Until(t time.Time) time.Duration        { return time.Until(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) NewTimer(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when Set or Advance is called. Timers and tickers
// fire from Advance once their deadline is reached; each channel holds at
// most one undelivered tick, like the time package's.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*mockWaiter
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }
func (c *MockClock) Until(t time.Time) time.Duration { return t.Sub(c.Now()) }

// Set moves the clock to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and fires every timer and ticker
// that has come due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	live := c.waiters[:0]
	var due []*mockWaiter
	for _, w := range c.waiters {
		if w.stopped() {
			continue
		}
		if !now.Before(w.deadline) {
			due = append(due, w)
			if w.period <= 0 {
				continue
			}
			w.deadline = now.Add(w.period)
		}
		live = append(live, w)
	}
	clear(c.waiters[len(live):])
	c.waiters = live
	c.mu.Unlock()

	for _, w := range due {
		w.fire(now)
	}
}

// Waiters returns how many timers and tickers are pending. Tests use it
// to wait until a goroutine has armed its timer before advancing.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped() {
			n++
		}
	}
	return n
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	return c.add(d, 0)
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker period")
	}
	return mockTicker{c.add(d, d)}
}

func (c *MockClock) add(d, period time.Duration) *mockWaiter {
	w := &mockWaiter{ch: make(chan time.Time, 1), period: period}
	c.mu.Lock()
	w.deadline = c.now.Add(d)
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w
}

type mockWaiter struct {
	ch       chan time.Time
	deadline time.Time // guarded by the clock's mu
	period   time.Duration

	mu    sync.Mutex
	done  bool
	fired bool
}

func (w *mockWaiter) C() <-chan time.Time { return w.ch }

func (w *mockWaiter) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	pending := !w.done && !w.fired
	w.done = true
	return pending
}

func (w *mockWaiter) stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *mockWaiter) fire(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	if w.period <= 0 {
		w.fired = true
	}
	select {
	case w.ch <- now:
	default:
	}
}

type mockTicker struct{ w *mockWaiter }

func (t mockTicker) C() <-chan time.Time { return t.w.ch }
func (t mockTicker) Stop()               { t.w.Stop() }
