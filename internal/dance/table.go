package dance

import (
	"keydance/internal/action"
	"keydance/internal/keycode"
)

// Entry is what one tap count resolves to. When Hold is set and differs
// from Tap, the entry is split: the choice waits until the key is released,
// interrupted, or held past the tapping window.
type Entry struct {
	Tap  action.Action
	Hold action.Action
}

// Split reports whether the entry distinguishes hold from tap.
func (e Entry) Split() bool {
	return !e.Hold.IsNoOp() && e.Hold != e.Tap
}

// Table maps tap counts to entries. Entries[0] is the single tap.
type Table struct {
	Name    string
	Entries []Entry
	Default action.Action
}

// Lookup returns the entry for count. Counts past the table fold to
// Default.
func (t Table) Lookup(count uint8) Entry {
	if count == 0 || int(count) > len(t.Entries) {
		return Entry{Tap: t.Default}
	}
	return t.Entries[count-1]
}

// RightAlt is the dance for the right Alt key:
// tap → RAlt, double tap → RGui, triple tap → RGui+RAlt.
func RightAlt() Table {
	return Table{
		Name: "right_alt",
		Entries: []Entry{
			{Tap: action.Mod(action.RAlt)},
			{Tap: action.Mod(action.RGui)},
			{Tap: action.Mod(action.RGui | action.RAlt)},
		},
		Default: action.NoOp,
	}
}

// RightCtrl is the dance for the right Ctrl key:
// hold → MO(fn), tap → App, double tap → RCtrl, triple tap → App.
func RightCtrl() Table {
	app := action.Key(keycode.Compose)
	return Table{
		Name: "right_ctrl",
		Entries: []Entry{
			{Tap: app, Hold: action.Momentary(action.LayerFn)},
			{Tap: action.Mod(action.RCtrl)},
			{Tap: app},
		},
		Default: action.NoOp,
	}
}
