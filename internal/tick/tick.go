// Package tick provides the wrapping millisecond counter every keydance
// engine measures time with.
//
// A Tick is 16 bits wide, matching the timer width of small keyboard
// controllers. Elapsed time is always computed with modular subtraction so
// an interval spanning the wrap point still comes out small and positive.
package tick

import (
	"sync"
	"time"
)

// Tick is a millisecond timestamp that wraps at 2^16.
type Tick uint16

// Duration is a number of ticks between two timestamps.
type Duration uint16

// Max is the largest representable interval.
const Max Duration = 1<<16 - 1

// Elapsed returns the ticks from `from` to `to`, treating the difference as
// an unsigned value within the tick range.
func Elapsed(from, to Tick) Duration {
	return Duration(to - from)
}

// Since is shorthand for Elapsed(from, c.Now()).
func Since(c Clock, from Tick) Duration {
	return Elapsed(from, c.Now())
}

// FromDuration converts a wall-clock duration to ticks, clamping to Max.
func FromDuration(d time.Duration) Duration {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	if ms > int64(Max) {
		return Max
	}
	return Duration(ms)
}

// Std converts ticks back to a wall-clock duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d) * time.Millisecond
}

// Clock reads the current tick.
type Clock interface {
	Now() Tick
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() Tick

// Now calls f.
func (f ClockFunc) Now() Tick { return f() }

// Manual is a Clock that only moves when told to. Replays and tests use it.
type Manual struct {
	mu  sync.Mutex
	now Tick
}

// NewManual returns a Manual clock starting at t.
func NewManual(t Tick) *Manual {
	return &Manual{now: t}
}

// Now returns the current tick.
func (m *Manual) Now() Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t Tick) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d, wrapping as needed, and returns the
// new tick.
func (m *Manual) Advance(d Duration) Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += Tick(d)
	return m.now
}
