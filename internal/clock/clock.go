// Package clock provides an injectable time source so schedulers and stores
// can be driven deterministically in tests.
package clock

import "time"

// Clock abstracts wall-clock access.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) *time.Ticker
}

// System is the real clock.
type System struct{}

func (System) Now() time.Time                       { return time.Now() }
func (System) Since(t time.Time) time.Duration     { return time.Since(t) }
func (System) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// Fake is a manually advanced clock for tests.
type Fake struct {
	Time time.Time
}

// NewFake creates a fake clock pinned at t.
func NewFake(t time.Time) *Fake { return &Fake{Time: t} }

func (f *Fake) Now() time.Time                   { return f.Time }
func (f *Fake) Since(t time.Time) time.Duration  { return f.Time.Sub(t) }
func (f *Fake) Advance(d time.Duration)          { f.Time = f.Time.Add(d) }

// NewTicker on a fake clock returns a ticker that never fires; tests drive
// components through their step functions instead.
func (f *Fake) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(time.Hour * 24 * 365)
}
