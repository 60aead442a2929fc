// Package action defines the logical outputs keydance resolves key
// sequences into, and the assert/deassert contract with the output layer.
package action

import (
	"strconv"
	"strings"

	"keydance/internal/keycode"
)

// Mods is a bitmask of modifier keys, in HID report order.
type Mods uint8

const (
	LCtrl Mods = 1 << iota
	LShift
	LAlt
	LGui
	RCtrl
	RShift
	RAlt
	RGui
)

var modOrder = []struct {
	bit  Mods
	key  keycode.KeyID
	name string
}{
	{LCtrl, keycode.LeftCtrl, "LCtrl"},
	{LShift, keycode.LeftShift, "LShift"},
	{LAlt, keycode.LeftAlt, "LAlt"},
	{LGui, keycode.LeftMeta, "LGui"},
	{RCtrl, keycode.RightCtrl, "RCtrl"},
	{RShift, keycode.RightShift, "RShift"},
	{RAlt, keycode.RightAlt, "RAlt"},
	{RGui, keycode.RightMeta, "RGui"},
}

// Keys returns the key codes of the set modifiers in press order.
func (m Mods) Keys() []keycode.KeyID {
	var out []keycode.KeyID
	for _, o := range modOrder {
		if m&o.bit != 0 {
			out = append(out, o.key)
		}
	}
	return out
}

func (m Mods) String() string {
	var parts []string
	for _, o := range modOrder {
		if m&o.bit != 0 {
			parts = append(parts, o.name)
		}
	}
	return strings.Join(parts, "+")
}

// Layer is a momentary layer index. Layer 0 is the base layer and doubles as
// "no layer".
type Layer uint8

const (
	NoLayer Layer = 0
	LayerFn Layer = 2
)

// Action is one output the core can assert and later deassert: a set of
// modifiers, an optional plain key, and an optional momentary layer.
// The zero value is the no-op action.
type Action struct {
	Mods  Mods
	Key   keycode.KeyID
	Layer Layer
}

// NoOp is the explicit no-op action.
var NoOp = Action{}

// Mod builds a modifier-only action.
func Mod(m Mods) Action { return Action{Mods: m} }

// Key builds a plain-key action.
func Key(k keycode.KeyID) Action { return Action{Key: k} }

// Momentary builds a momentary-layer action.
func Momentary(l Layer) Action { return Action{Layer: l} }

// With returns a copy of a with extra modifiers combined in.
func (a Action) With(m Mods) Action {
	a.Mods |= m
	return a
}

// IsNoOp reports whether asserting a would do nothing.
func (a Action) IsNoOp() bool { return a == NoOp }

// Keys returns every key code a press of a must hold down: modifiers first,
// then the plain key.
func (a Action) Keys() []keycode.KeyID {
	keys := a.Mods.Keys()
	if a.Key != keycode.None {
		keys = append(keys, a.Key)
	}
	return keys
}

func (a Action) String() string {
	if a.IsNoOp() {
		return "noop"
	}
	var parts []string
	if a.Mods != 0 {
		parts = append(parts, a.Mods.String())
	}
	if a.Key != keycode.None {
		parts = append(parts, a.Key.String())
	}
	if a.Layer != NoLayer {
		parts = append(parts, "MO("+layerName(a.Layer)+")")
	}
	return strings.Join(parts, "+")
}

func layerName(l Layer) string {
	switch l {
	case LayerFn:
		return "fn"
	default:
		return "layer" + strconv.Itoa(int(l))
	}
}
