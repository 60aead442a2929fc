package store

import (
	"time"

	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// ChatterRow is one stored chatter record.
type ChatterRow struct {
	ID         int64
	RecordedAt time.Time
	Key        keycode.KeyID
	Pressed    bool
	Deltas     []tick.Duration
}
