package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a StepClock returns unless told otherwise.
var DefaultEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests. Each call to Now
// returns an instant one step after the previous one, so rows written in
// sequence get strictly increasing timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	n     int64
}

// NewStepClock creates a clock starting at DefaultEpoch with a one second step.
func NewStepClock() *StepClock {
	return NewStepClockAt(DefaultEpoch, time.Second)
}

// NewStepClockAt creates a clock starting at start advancing by step.
func NewStepClockAt(start time.Time, step time.Duration) *StepClock {
	return &StepClock{start: start.UTC(), step: step}
}

// Now returns the next instant.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Frozen returns a clock function that always reports t.
// Used to force equal timestamps and exercise seq tie-breaking.
func Frozen(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Ticks returns how many times Now has been called.
func (c *StepClock) Ticks() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock to its start.
func (c *StepClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
