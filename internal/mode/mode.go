// Package mode holds the persisted secondary-action mode selector.
//
// The selector keeps the whole persisted byte in memory and only owns bit
// 0; other bits written by someone else survive a SetMode.
package mode

import (
	"fmt"
	"strings"

	"keydance/internal/action"
	"keydance/internal/keycode"
)

// Mode selects which secondary action a double tap emits.
type Mode uint8

const (
	// ModeA emits Caps Lock.
	ModeA Mode = 0
	// ModeB emits Ctrl+F15.
	ModeB Mode = 1
)

const modeBit byte = 1 << 0

func (m Mode) String() string {
	if m == ModeB {
		return "b"
	}
	return "a"
}

// Parse accepts "a"/"b", "0"/"1", or the long names "caps" and "ctrl-f15".
func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "0", "caps", "capslock":
		return ModeA, nil
	case "b", "1", "ctrl-f15", "ctrl+f15":
		return ModeB, nil
	default:
		return ModeA, fmt.Errorf("unknown mode %q", s)
	}
}

// Secondary returns the secondary action for m.
func (m Mode) Secondary() action.Action {
	if m == ModeB {
		return action.Key(keycode.F15).With(action.LCtrl)
	}
	return action.Key(keycode.CapsLock)
}

// Persister is the persistent byte store the selector lives in.
type Persister interface {
	Load() (byte, error)
	Save(byte) error
}

// Selector is the in-memory copy of the persisted mode.
type Selector struct {
	store Persister
	raw   byte
}

// Load reads the persisted byte once.
func Load(p Persister) (*Selector, error) {
	raw, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load mode: %w", err)
	}
	return &Selector{store: p, raw: raw}, nil
}

// Mode returns the current mode.
func (s *Selector) Mode() Mode {
	return Mode(s.raw & modeBit)
}

// Raw returns the persisted byte as held in memory.
func (s *Selector) Raw() byte {
	return s.raw
}

// Secondary returns the secondary action for the current mode.
func (s *Selector) Secondary() action.Action {
	return s.Mode().Secondary()
}

// SetMode persists m and then updates the in-memory copy. The store is
// written on every call. On error the in-memory mode is unchanged.
func (s *Selector) SetMode(m Mode) error {
	raw := s.raw &^ modeBit
	if m == ModeB {
		raw |= modeBit
	}
	if err := s.store.Save(raw); err != nil {
		return fmt.Errorf("persist mode %s: %w", m, err)
	}
	s.raw = raw
	return nil
}
