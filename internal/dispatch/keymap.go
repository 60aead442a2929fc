package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"keydance/internal/keycode"
)

// Role is what a physical key does in the pipeline.
type Role uint8

const (
	RoleNone Role = iota
	RoleRightAlt
	RoleRightCtrl
	RoleLeftShift
	RoleRightShift
	RoleLangSwitch
	RoleModeA
	RoleModeB
)

var roleNames = map[Role]string{
	RoleNone:       "none",
	RoleRightAlt:   "right_alt",
	RoleRightCtrl:  "right_ctrl",
	RoleLeftShift:  "left_shift",
	RoleRightShift: "right_shift",
	RoleLangSwitch: "lang_switch",
	RoleModeA:      "mode_a",
	RoleModeB:      "mode_b",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole accepts the names returned by Role.String, with dashes or
// underscores.
func ParseRole(s string) (Role, error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for r, n := range roleNames {
		if n == s {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// Keymap binds physical keys to roles. Keys not in the map are plain keys.
type Keymap map[keycode.KeyID]Role

// ErrKeymap is returned for a keymap the dispatcher cannot run.
var ErrKeymap = errors.New("invalid keymap")

// DefaultKeymap binds each role to the key it is named after.
func DefaultKeymap() Keymap {
	return Keymap{
		keycode.RightAlt:   RoleRightAlt,
		keycode.RightCtrl:  RoleRightCtrl,
		keycode.LeftShift:  RoleLeftShift,
		keycode.RightShift: RoleRightShift,
	}
}

// Find returns the first key bound to role, in key order.
func (k Keymap) Find(role Role) (keycode.KeyID, bool) {
	found := keycode.None
	for key, r := range k {
		if r == role && (found == keycode.None || key < found) {
			found = key
		}
	}
	return found, found != keycode.None
}

// Validate checks that each composite side is bound to at most one key.
func (k Keymap) Validate() error {
	if _, ok := k[keycode.None]; ok {
		return fmt.Errorf("%w: key 0 is not a valid binding", ErrKeymap)
	}
	for _, role := range []Role{RoleLeftShift, RoleRightShift} {
		n := 0
		for _, r := range k {
			if r == role {
				n++
			}
		}
		if n > 1 {
			return fmt.Errorf("%w: %s is bound to %d keys", ErrKeymap, role, n)
		}
	}
	return nil
}
