//go:build linux

package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/holoplot/go-evdev"

	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// EvdevOptions selects and configures an input device.
type EvdevOptions struct {
	// Device is a /dev/input path or a case-insensitive substring of the
	// device name. Empty picks the first keyboard.
	Device string
	// Grab takes exclusive access so the desktop does not also see the
	// physical keys.
	Grab bool
	// Clock timestamps events as they are read. Defaults to the monotonic
	// clock.
	Clock tick.Clock
}

// Evdev reads a Linux input device.
type Evdev struct {
	dev   *evdev.InputDevice
	path  string
	name  string
	clock tick.Clock
	grab  bool

	closeOnce sync.Once
	closeErr  error
}

// DeviceInfo describes a keyboard found by ListKeyboards.
type DeviceInfo struct {
	Path string
	Name string
}

// ListKeyboards returns the input devices that report letter keys.
func ListKeyboards() ([]DeviceInfo, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	var out []DeviceInfo
	for _, p := range paths {
		dev, err := evdev.Open(p.Path)
		if err != nil {
			continue
		}
		if isKeyboard(dev) {
			name, _ := dev.Name()
			out = append(out, DeviceInfo{Path: p.Path, Name: name})
		}
		dev.Close()
	}
	return out, nil
}

func isKeyboard(dev *evdev.InputDevice) bool {
	if !slices.Contains(dev.CapableTypes(), evdev.EV_KEY) {
		return false
	}
	codes := dev.CapableEvents(evdev.EV_KEY)
	return slices.Contains(codes, evdev.KEY_A) && slices.Contains(codes, evdev.KEY_SPACE)
}

func findDevice(want string) (string, error) {
	if strings.HasPrefix(want, "/") {
		return want, nil
	}
	keyboards, err := ListKeyboards()
	if err != nil {
		return "", err
	}
	want = strings.ToLower(want)
	for _, k := range keyboards {
		if want == "" || strings.Contains(strings.ToLower(k.Name), want) {
			return k.Path, nil
		}
	}
	if want == "" {
		return "", fmt.Errorf("no keyboard found")
	}
	return "", fmt.Errorf("no keyboard matching %q", want)
}

// OpenEvdev opens the device named by opts.
func OpenEvdev(opts EvdevOptions) (*Evdev, error) {
	path, err := findDevice(opts.Device)
	if err != nil {
		return nil, err
	}
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if opts.Grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("grab %s: %w", path, err)
		}
	}
	if opts.Clock == nil {
		opts.Clock = tick.NewMonotonic()
	}
	name, _ := dev.Name()
	return &Evdev{
		dev:   dev,
		path:  path,
		name:  name,
		clock: opts.Clock,
		grab:  opts.Grab,
	}, nil
}

// Path returns the device node.
func (e *Evdev) Path() string { return e.path }

// Name returns the device name reported by the kernel.
func (e *Evdev) Name() string { return e.name }

// Stream reads key events until ctx is done or the device fails. Closing
// the device is the only way to interrupt a blocked read, so a cancelled
// Stream leaves the Evdev closed.
func (e *Evdev) Stream(ctx context.Context, emit func(keycode.Event) error) error {
	stop := context.AfterFunc(ctx, func() { e.Close() })
	defer stop()

	for {
		ev, err := e.dev.ReadOne()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read %s: %w", e.path, err)
		}
		if ev.Type != evdev.EV_KEY {
			continue
		}
		var pressed bool
		switch ev.Value {
		case 0:
			pressed = false
		case 1:
			pressed = true
		default:
			// 2 is autorepeat.
			continue
		}
		if err := emit(keycode.Event{
			Key:     keycode.KeyID(ev.Code),
			Pressed: pressed,
			Time:    e.clock.Now(),
		}); err != nil {
			return err
		}
	}
}

// Close releases the grab and the device.
func (e *Evdev) Close() error {
	e.closeOnce.Do(func() {
		var errs []error
		if e.grab {
			errs = append(errs, e.dev.Ungrab())
		}
		errs = append(errs, e.dev.Close())
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}
