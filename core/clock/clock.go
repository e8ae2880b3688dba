// Package clock abstracts wall time so that market timing can be driven by a
// real clock in production and by an accelerated clock in simulations and
// tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to markets and meter points.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Simulated maps elapsed real time onto a simulated timeline starting at
// Start and running Acceleration times faster than real time.
type Simulated struct {
	Start        time.Time
	Acceleration float64

	mu      sync.Mutex
	created time.Time
}

// NewSimulated returns a simulated clock anchored at start.
func NewSimulated(start time.Time, acceleration float64) *Simulated {
	if acceleration <= 0 {
		acceleration = 1
	}
	return &Simulated{Start: start, Acceleration: acceleration, created: time.Now()}
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.created)
	return s.Start.Add(time.Duration(float64(elapsed) * s.Acceleration))
}

// Manual is a clock advanced explicitly. It is intended for tests that step
// the market state machine through its transition thresholds.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock set to now.
func NewManual(now time.Time) *Manual { return &Manual{now: now} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
