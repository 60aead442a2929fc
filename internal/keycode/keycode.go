// Package keycode names the physical key identities keydance works with and
// the raw press/release events produced by a scanner.
//
// Identities use Linux input event codes so that scanner, core and output
// agree on one numbering without translation tables.
package keycode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"keydance/internal/tick"
)

// KeyID identifies a physical key.
type KeyID uint16

// None is the empty key identity.
const None KeyID = 0

// Key codes used by the shipped keymap and actions.
const (
	Esc        KeyID = 1
	A          KeyID = 30
	LeftCtrl   KeyID = 29
	LeftShift  KeyID = 42
	Backslash  KeyID = 43
	RightShift KeyID = 54
	LeftAlt    KeyID = 56
	Space      KeyID = 57
	CapsLock   KeyID = 58
	RightCtrl  KeyID = 97
	RightAlt   KeyID = 100
	LeftMeta   KeyID = 125
	RightMeta  KeyID = 126
	Compose    KeyID = 127
	F13        KeyID = 183
	F14        KeyID = 184
	F15        KeyID = 185
)

var names = map[KeyID]string{
	Esc:        "KEY_ESC",
	A:          "KEY_A",
	LeftCtrl:   "KEY_LEFTCTRL",
	LeftShift:  "KEY_LEFTSHIFT",
	Backslash:  "KEY_BACKSLASH",
	RightShift: "KEY_RIGHTSHIFT",
	LeftAlt:    "KEY_LEFTALT",
	Space:      "KEY_SPACE",
	CapsLock:   "KEY_CAPSLOCK",
	RightCtrl:  "KEY_RIGHTCTRL",
	RightAlt:   "KEY_RIGHTALT",
	LeftMeta:   "KEY_LEFTMETA",
	RightMeta:  "KEY_RIGHTMETA",
	Compose:    "KEY_COMPOSE",
	F13:        "KEY_F13",
	F14:        "KEY_F14",
	F15:        "KEY_F15",
}

var byName = func() map[string]KeyID {
	m := make(map[string]KeyID, len(names))
	for id, n := range names {
		m[n] = id
	}
	return m
}()

// String returns the KEY_* name, or the decimal code for unnamed keys.
func (k KeyID) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return strconv.Itoa(int(k))
}

// Parse accepts a KEY_* name (the prefix is optional and case is ignored),
// a decimal code, or a 0x-prefixed hex code.
func Parse(s string) (KeyID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None, nil
	}

	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "KEY_") {
		if id, ok := byName["KEY_"+upper]; ok {
			return id, nil
		}
	}
	if id, ok := byName[upper]; ok {
		return id, nil
	}

	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return None, fmt.Errorf("unknown key %q", s)
	}
	return KeyID(n), nil
}

// Names returns the known key names in sorted order.
func Names() []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Event is one press or release delivered by the scanner. Events are
// immutable values; the core never keeps a reference beyond the call.
type Event struct {
	Key     KeyID
	Pressed bool
	Time    tick.Tick
}

// Press builds a press event.
func Press(k KeyID, at tick.Tick) Event {
	return Event{Key: k, Pressed: true, Time: at}
}

// Release builds a release event.
func Release(k KeyID, at tick.Tick) Event {
	return Event{Key: k, Pressed: false, Time: at}
}

func (e Event) String() string {
	state := "up"
	if e.Pressed {
		state = "down"
	}
	return fmt.Sprintf("%s %s @%d", e.Key, state, e.Time)
}
