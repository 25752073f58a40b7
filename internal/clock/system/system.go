// Package system provides clocks for run timestamps.
package system

import "time"

// Clock implements comic.Clock using the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a function to comic.Clock. Tests use it to pin timestamps.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

// Fixed returns a clock that always reports t.
func Fixed(t time.Time) Func {
	return func() time.Time { return t }
}
