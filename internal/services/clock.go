package services

import "time"

// Clock supplies the current time to every time-dependent rule
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant. Used by replays and tests.
type FixedClock struct {
	At time.Time
}

// Now returns the fixed instant
func (c FixedClock) Now() time.Time {
	return c.At
}
