// Package clock provides the time, identity and randomness primitives shared
// by every control-plane component. Wall time, vector clocks, ID generation
// and pseudo-randomness are all injected so that replay and simulation tests
// stay deterministic.
package clock

import (
	"sync"
	"time"
)

// Clock supplies wall time. Components never call time.Now directly; they
// receive a Clock so simulations can substitute a manual one.
type Clock interface {
	// Now returns the current wall time.
	Now() time.Time

	// NowMillis returns the current wall time in Unix milliseconds.
	NowMillis() int64
}

// systemClock reads the host clock.
type systemClock struct{}

// System returns a Clock backed by the host clock.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Manual is a hand-advanced clock for tests and deterministic simulation.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NowMillis returns the current manual time in Unix milliseconds.
func (m *Manual) NowMillis() int64 {
	return m.Now().UnixMilli()
}

// Advance moves the manual clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the manual clock to an absolute time.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
