//go:build linux

package tick

import (
	"golang.org/x/sys/unix"
)

type monotonic struct{}

// NewMonotonic returns a Clock backed by CLOCK_MONOTONIC.
func NewMonotonic() Clock {
	return monotonic{}
}

func (monotonic) Now() Tick {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallback.Now()
	}
	ms := int64(ts.Sec)*1000 + int64(ts.Nsec)/1_000_000
	return Tick(uint64(ms))
}

var fallback = newSinceStart()
