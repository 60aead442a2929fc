// Package composite implements the shared-counter modifier engine: two
// physical keys (left and right) act as ordinary modifiers on a single
// press, and emit a secondary action on a double tap.
//
// Both keys feed one tap counter. Switching from one key to the other, or
// any event from an unrelated key, forgets earlier taps, so alternating
// left and right presses never reads as a double tap. Each side keeps its
// own resolved state, so releasing one side only undoes what that side
// asserted.
package composite

import (
	"keydance/internal/action"
	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// Side selects the left or right key.
type Side uint8

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Right {
		return "right"
	}
	return "left"
}

// State is what one side currently resolves to.
type State uint8

const (
	Idle State = iota
	Primary
	Secondary
)

func (s State) String() string {
	switch s {
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return "idle"
	}
}

// SecondarySource supplies the secondary action at resolution time.
type SecondarySource interface {
	Secondary() action.Action
}

type counter struct {
	active    keycode.KeyID
	hasActive bool
	count     uint8
	last      tick.Tick
}

type side struct {
	key     keycode.KeyID
	primary action.Action
	extra   action.Mods
	state   State
	held    action.Action
}

// Engine is the composite modifier/secondary engine.
type Engine struct {
	window    tick.Duration
	secondary SecondarySource
	counter   counter
	sides     [2]side
}

// Config describes the two keys.
type Config struct {
	Window     tick.Duration
	LeftKey    keycode.KeyID
	RightKey   keycode.KeyID
	Secondary  SecondarySource
	RightExtra action.Mods
}

// New returns an Engine. The left side asserts LShift as its primary
// modifier, the right side RShift, and the right side adds RightExtra to
// its secondary action.
func New(cfg Config) *Engine {
	return &Engine{
		window:    cfg.Window,
		secondary: cfg.Secondary,
		sides: [2]side{
			Left:  {key: cfg.LeftKey, primary: action.Mod(action.LShift)},
			Right: {key: cfg.RightKey, primary: action.Mod(action.RShift), extra: cfg.RightExtra},
		},
	}
}

// SetWindow changes the tapping window for subsequent presses.
func (e *Engine) SetWindow(w tick.Duration) {
	e.window = w
}

// Key returns the key bound to side.
func (e *Engine) Key(s Side) keycode.KeyID {
	return e.sides[s].key
}

// SideOf reports which side key is bound to.
func (e *Engine) SideOf(key keycode.KeyID) (Side, bool) {
	for i := range e.sides {
		if e.sides[i].key == key && key != keycode.None {
			return Side(i), true
		}
	}
	return Left, false
}

// LeftEvent handles an event of the left key.
func (e *Engine) LeftEvent(ev keycode.Event) []action.Step {
	return e.handle(Left, ev)
}

// RightEvent handles an event of the right key.
func (e *Engine) RightEvent(ev keycode.Event) []action.Step {
	return e.handle(Right, ev)
}

// Observe lets the engine see an event of any other key. A key that is not
// the active one resets the shared counter.
func (e *Engine) Observe(key keycode.KeyID) {
	e.guard(key)
}

func (e *Engine) guard(key keycode.KeyID) {
	if e.counter.hasActive && key != e.counter.active {
		e.counter.hasActive = false
		e.counter.active = keycode.None
		e.counter.count = 0
	}
}

func (e *Engine) handle(s Side, ev keycode.Event) []action.Step {
	e.guard(ev.Key)
	sd := &e.sides[s]

	if !ev.Pressed {
		held := sd.held
		sd.state = Idle
		sd.held = action.NoOp
		return action.Up(held)
	}

	var steps []action.Step
	if sd.state != Idle {
		// Lost release on this side; close it out first.
		steps = append(steps, action.Up(sd.held)...)
	}

	c := &e.counter
	c.active = ev.Key
	c.hasActive = true
	if c.count > 0 && tick.Elapsed(c.last, ev.Time) > e.window {
		c.count = 0
	}
	c.last = ev.Time
	c.count++

	switch c.count {
	case 1:
		sd.state = Primary
		sd.held = sd.primary
	case 2:
		c.count = 0
		sd.state = Secondary
		sd.held = e.secondaryFor(sd)
	default:
		sd.state = Idle
		sd.held = action.NoOp
	}
	return append(steps, action.Down(sd.held)...)
}

func (e *Engine) secondaryFor(sd *side) action.Action {
	if e.secondary == nil {
		return action.NoOp
	}
	return e.secondary.Secondary().With(sd.extra)
}

// State returns the resolved state of side.
func (e *Engine) State(s Side) State {
	return e.sides[s].state
}

// Held returns the action side currently asserts.
func (e *Engine) Held(s Side) action.Action {
	return e.sides[s].held
}

// Count returns the shared tap count.
func (e *Engine) Count() uint8 {
	return e.counter.count
}
