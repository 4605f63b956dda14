// Package timeutil provides a testable abstraction over wall-clock reads and
// sleeps. The simulator never calls time.Now or time.Sleep directly so that
// runs can be driven deterministically from tests.
package timeutil

import (
	"math"
	"sync"
	"time"
)

// Clock provides an abstraction over wall-clock operations.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// Since returns the wall duration elapsed since t.
	Since(t time.Time) time.Duration

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Sleep pauses the current goroutine for at least the duration d.
func (RealClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

// MockClock is a manually controlled clock for testing.
//
// Sleep never blocks. When auto-advance is enabled (the default from
// NewMockClock) a Sleep moves the mock time forward by the requested
// duration, so a paced loop progresses through simulated time without
// consuming real time.
type MockClock struct {
	mu          sync.Mutex
	now         time.Time
	sleeps      []time.Duration
	autoAdvance bool
	onSleep     func(d time.Duration)
}

// NewMockClock creates a MockClock set to t that advances on Sleep.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t, autoAdvance: true}
}

// NewFrozenMockClock creates a MockClock set to t whose time only changes
// through Advance or Set.
func NewFrozenMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mocked current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set sets the mock clock to a specific time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Sleep records the sleep duration and returns immediately, advancing the
// mock time first when auto-advance is enabled.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	if c.autoAdvance && d > 0 {
		c.now = c.now.Add(d)
	}
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(d)
	}
}

// OnSleep registers a hook that runs after every Sleep, outside the lock.
// Tests use it to inject events (new messages, jitter) between cycles.
func (c *MockClock) OnSleep(f func(d time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSleep = f
}

// Sleeps returns all recorded sleep durations.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]time.Duration, len(c.sleeps))
	copy(result, c.sleeps)
	return result
}

// Seconds converts a float number of seconds to a time.Duration, rounding to
// the nearest nanosecond.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
