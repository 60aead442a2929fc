// Package output implements action.Output: the layer that turns asserted
// actions into host key reports.
package output

import (
	"errors"
	"log/slog"

	"keydance/internal/action"
	"keydance/internal/keycode"
)

// ErrNotAvailable is returned when a backend is unsupported on this platform.
var ErrNotAvailable = errors.New("output backend not available on this platform")

// presser is a device that can hold individual keys down.
type presser interface {
	press(k keycode.KeyID) error
	release(k keycode.KeyID) error
}

// Keyboard reference-counts physical keys so that overlapping actions
// sharing a modifier only release it when the last holder lets go.
// Layer actions go to a Layers tracker instead of the device.
type Keyboard struct {
	dev     presser
	refs    map[keycode.KeyID]int
	layers  *Layers
	onError func(error)
}

func newKeyboard(dev presser, onError func(error)) *Keyboard {
	if onError == nil {
		onError = func(err error) { slog.Error("output failed", "error", err) }
	}
	return &Keyboard{
		dev:     dev,
		refs:    make(map[keycode.KeyID]int),
		layers:  NewLayers(),
		onError: onError,
	}
}

// Assert presses every key of a that is not already held.
func (k *Keyboard) Assert(a action.Action) {
	if a.Layer != action.NoLayer {
		k.layers.Assert(a)
	}
	for _, key := range a.Keys() {
		k.refs[key]++
		if k.refs[key] == 1 {
			if err := k.dev.press(key); err != nil {
				k.onError(err)
			}
		}
	}
}

// Deassert releases the keys of a that no other asserted action holds.
// Keys are released in reverse press order.
func (k *Keyboard) Deassert(a action.Action) {
	keys := a.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		if k.refs[key] == 0 {
			continue
		}
		k.refs[key]--
		if k.refs[key] == 0 {
			delete(k.refs, key)
			if err := k.dev.release(key); err != nil {
				k.onError(err)
			}
		}
	}
	if a.Layer != action.NoLayer {
		k.layers.Deassert(a)
	}
}

// Layers returns the momentary layer tracker.
func (k *Keyboard) Layers() *Layers {
	return k.layers
}

// Down returns the keys currently held on the device.
func (k *Keyboard) Down() []keycode.KeyID {
	out := make([]keycode.KeyID, 0, len(k.refs))
	for key := range k.refs {
		out = append(out, key)
	}
	return out
}

// ReleaseAll lets go of every held key. Used on shutdown.
func (k *Keyboard) ReleaseAll() {
	for key := range k.refs {
		if err := k.dev.release(key); err != nil {
			k.onError(err)
		}
		delete(k.refs, key)
	}
	k.layers.Reset()
}
