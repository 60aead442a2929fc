// Package dance classifies same-key tap sequences ("tap dances") into a
// resolved action using a per-key table and a fixed tapping window.
//
// A Classifier owns one session per registered key. Sessions are created
// lazily on the first event and are never shared between keys. Every
// transition returns the steps to apply; nothing is asserted behind the
// caller's back, so a release always undoes exactly what its press
// asserted.
//
// Timeouts are evaluated lazily: a session notices that the tapping window
// has passed only when its key produces another event, or when the caller
// chooses to Poll.
package dance

import (
	"maps"
	"slices"

	"keydance/internal/action"
	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// DefaultWindow is the default tapping window in ticks.
const DefaultWindow tick.Duration = 200

type session struct {
	count    uint8
	last     tick.Tick
	pressAt  tick.Tick
	pressed  bool
	pending  bool
	entry    Entry
	resolved action.Action
}

// Classifier runs the tap dances for a set of keys.
type Classifier struct {
	window   tick.Duration
	tables   map[keycode.KeyID]Table
	sessions map[keycode.KeyID]*session
}

// New returns a Classifier using the given tapping window.
func New(window tick.Duration) *Classifier {
	return &Classifier{
		window:   window,
		tables:   make(map[keycode.KeyID]Table),
		sessions: make(map[keycode.KeyID]*session),
	}
}

// Register binds a table to key, replacing any previous binding.
func (c *Classifier) Register(key keycode.KeyID, t Table) {
	c.tables[key] = t
}

// Tracks reports whether key has a table.
func (c *Classifier) Tracks(key keycode.KeyID) bool {
	_, ok := c.tables[key]
	return ok
}

// SetWindow changes the tapping window for subsequent events.
func (c *Classifier) SetWindow(w tick.Duration) {
	c.window = w
}

// Window returns the tapping window.
func (c *Classifier) Window() tick.Duration {
	return c.window
}

func (c *Classifier) session(key keycode.KeyID) *session {
	s, ok := c.sessions[key]
	if !ok {
		s = &session{}
		c.sessions[key] = s
	}
	return s
}

// OnEvent feeds one event for a registered key and returns the resulting
// steps. Events for unregistered keys are ignored.
func (c *Classifier) OnEvent(ev keycode.Event) []action.Step {
	t, ok := c.tables[ev.Key]
	if !ok {
		return nil
	}
	s := c.session(ev.Key)
	if ev.Pressed {
		return c.press(s, t, ev.Time)
	}
	return c.release(s, ev.Time)
}

func (c *Classifier) press(s *session, t Table, now tick.Tick) []action.Step {
	var steps []action.Step

	// A press without a release in between means the scanner lost an
	// event. Close out what is still held so nothing sticks.
	if s.pressed {
		steps = append(steps, c.release(s, now)...)
	}

	if s.count > 0 && tick.Elapsed(s.last, now) > c.window {
		s.count = 0
	}
	if s.count < 255 {
		s.count++
	}
	s.last = now
	s.pressAt = now
	s.pressed = true

	e := t.Lookup(s.count)
	if e.Split() {
		s.pending = true
		s.entry = e
		return steps
	}

	s.resolved = e.Tap
	return append(steps, action.Down(s.resolved)...)
}

func (c *Classifier) release(s *session, now tick.Tick) []action.Step {
	if !s.pressed {
		return nil
	}
	s.pressed = false

	if s.pending {
		held := tick.Elapsed(s.pressAt, now) >= c.window
		return action.Tap(s.decide(held))
	}

	a := s.resolved
	s.resolved = action.NoOp
	return action.Up(a)
}

// decide settles a pending split entry and returns the chosen action.
func (s *session) decide(held bool) action.Action {
	a := s.entry.Tap
	if held {
		a = s.entry.Hold
	}
	s.pending = false
	s.entry = Entry{}
	return a
}

// Interrupt tells the classifier that key was pressed. Any other key whose
// split entry is still pending while held is resolved as a hold, and its
// hold action is asserted now.
func (c *Classifier) Interrupt(key keycode.KeyID) []action.Step {
	var steps []action.Step
	for _, k := range slices.Sorted(maps.Keys(c.sessions)) {
		s := c.sessions[k]
		if k == key || !s.pending || !s.pressed {
			continue
		}
		s.resolved = s.decide(true)
		steps = append(steps, action.Down(s.resolved)...)
	}
	return steps
}

// Poll resolves pending split entries whose key has been held for the whole
// tapping window. Calling it is optional.
func (c *Classifier) Poll(now tick.Tick) []action.Step {
	var steps []action.Step
	for _, k := range slices.Sorted(maps.Keys(c.sessions)) {
		s := c.sessions[k]
		if !s.pending || !s.pressed {
			continue
		}
		if tick.Elapsed(s.pressAt, now) < c.window {
			continue
		}
		s.resolved = s.decide(true)
		steps = append(steps, action.Down(s.resolved)...)
	}
	return steps
}

// Held returns the action currently asserted for key, if any.
func (c *Classifier) Held(key keycode.KeyID) action.Action {
	if s, ok := c.sessions[key]; ok {
		return s.resolved
	}
	return action.NoOp
}

// Count returns the running tap count for key.
func (c *Classifier) Count(key keycode.KeyID) uint8 {
	if s, ok := c.sessions[key]; ok {
		return s.count
	}
	return 0
}
