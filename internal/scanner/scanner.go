// Package scanner delivers raw key events to the dispatcher.
//
// A Source calls emit once per press or release, in order, from a single
// goroutine. Key repeat is never reported.
package scanner

import (
	"context"
	"errors"

	"keydance/internal/keycode"
)

// ErrNotAvailable is returned when a source cannot run on this platform.
var ErrNotAvailable = errors.New("scanner: not available on this platform")

// Source produces key events until it runs out, ctx is done, or emit
// returns an error. A Source that runs out returns nil.
type Source interface {
	Stream(ctx context.Context, emit func(keycode.Event) error) error
}

// Collect streams src into a slice. It stops at the end of the source or
// when ctx is done; the events read so far are returned either way.
func Collect(ctx context.Context, src Source) ([]keycode.Event, error) {
	var out []keycode.Event
	err := src.Stream(ctx, func(ev keycode.Event) error {
		out = append(out, ev)
		return nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	return out, err
}
