package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func received(ch <-chan time.Time) (time.Time, bool) {
	select {
	case ts := <-ch:
		return ts, true
	default:
		return time.Time{}, false
	}
}

func TestRealClock(t *testing.T) {
	c := RealClock{}
	assert.WithinDuration(t, time.Now(), c.Now(), time.Second)
	assert.GreaterOrEqual(t, c.Since(time.Now().Add(-time.Second)), time.Second)

	timer := c.NewTimer(5 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	ticker := c.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_NowSinceUntil(t *testing.T) {
	c := NewMockClock(t0)
	assert.Equal(t, t0, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, c.Since(t0))
	assert.Equal(t, 30*time.Second, c.Until(t0.Add(2*time.Minute)))

	c.Set(t0)
	assert.Equal(t, t0, c.Now())
}

func TestMockClock_TimerFiresOnceAtDeadline(t *testing.T) {
	c := NewMockClock(t0)
	timer := c.NewTimer(time.Second)
	assert.Equal(t, 1, c.Waiters())

	c.Advance(999 * time.Millisecond)
	_, ok := received(timer.C())
	assert.False(t, ok, "fired early")

	c.Advance(time.Millisecond)
	ts, ok := received(timer.C())
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), ts)
	assert.Zero(t, c.Waiters())

	c.Advance(time.Hour)
	_, ok = received(timer.C())
	assert.False(t, ok, "fired twice")
	assert.False(t, timer.Stop(), "a fired timer is no longer pending")
}

func TestMockClock_StoppedTimerNeverFires(t *testing.T) {
	c := NewMockClock(t0)
	timer := c.NewTimer(time.Second)
	assert.True(t, timer.Stop())
	assert.Zero(t, c.Waiters())

	c.Advance(time.Minute)
	_, ok := received(timer.C())
	assert.False(t, ok)
}

func TestMockClock_After(t *testing.T) {
	c := NewMockClock(t0)
	ch := c.After(10 * time.Millisecond)
	c.Advance(10 * time.Millisecond)
	_, ok := received(ch)
	assert.True(t, ok)
}

func TestMockClock_TickerRearms(t *testing.T) {
	c := NewMockClock(t0)
	ticker := c.NewTicker(time.Second)

	for i := 1; i <= 3; i++ {
		c.Advance(time.Second)
		ts, ok := received(ticker.C())
		assert.True(t, ok, "tick %d", i)
		assert.Equal(t, t0.Add(time.Duration(i)*time.Second), ts)
	}

	// An unread tick is not duplicated.
	c.Advance(time.Second)
	c.Advance(time.Second)
	_, ok := received(ticker.C())
	assert.True(t, ok)
	_, ok = received(ticker.C())
	assert.False(t, ok)

	ticker.Stop()
	c.Advance(time.Second)
	_, ok = received(ticker.C())
	assert.False(t, ok)
	assert.Zero(t, c.Waiters())
}

func TestMockClock_NonPositiveTickerPanics(t *testing.T) {
	assert.Panics(t, func() { NewMockClock(t0).NewTicker(0) })
}
