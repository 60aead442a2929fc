//go:build !linux

package scanner

import (
	"context"

	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// EvdevOptions selects and configures an input device.
type EvdevOptions struct {
	Device string
	Grab   bool
	Clock  tick.Clock
}

// Evdev is only available on Linux.
type Evdev struct{}

// DeviceInfo describes a keyboard found by ListKeyboards.
type DeviceInfo struct {
	Path string
	Name string
}

func ListKeyboards() ([]DeviceInfo, error) {
	return nil, ErrNotAvailable
}

func OpenEvdev(opts EvdevOptions) (*Evdev, error) {
	return nil, ErrNotAvailable
}

func (e *Evdev) Path() string { return "" }
func (e *Evdev) Name() string { return "" }

func (e *Evdev) Stream(ctx context.Context, emit func(keycode.Event) error) error {
	return ErrNotAvailable
}

func (e *Evdev) Close() error { return nil }
