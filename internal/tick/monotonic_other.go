//go:build !linux

package tick

// NewMonotonic returns a Clock backed by the runtime's monotonic clock.
func NewMonotonic() Clock {
	return newSinceStart()
}
