package tick

import "time"

type sinceStart struct {
	start time.Time
}

func newSinceStart() sinceStart {
	return sinceStart{start: time.Now()}
}

// Now derives a tick from the monotonic reading embedded in time.Time.
func (s sinceStart) Now() Tick {
	return Tick(uint64(time.Since(s.start).Milliseconds()))
}
