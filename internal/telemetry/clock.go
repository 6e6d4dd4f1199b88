package telemetry

import "time"

// Clock abstracts wall-clock access so simulations can run on synthetic time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a hand-advanced Clock for tests.
type ManualClock struct {
	Current time.Time
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	return c.Current
}

// Advance moves the manual clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}
