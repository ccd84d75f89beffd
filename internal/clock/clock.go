// Package clock abstracts wall time so retry deadlines and staleness sweeps
// are testable without sleeping.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now().UTC() }

// Fake is a manually advanced clock for tests.
type Fake struct {
	T time.Time
}

// NewFake creates a Fake starting at t.
func NewFake(t time.Time) *Fake { return &Fake{T: t} }

// Now implements Clock.
func (f *Fake) Now() time.Time { return f.T }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.T = f.T.Add(d) }
