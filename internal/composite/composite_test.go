package composite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"keydance/internal/action"
	"keydance/internal/keycode"
	"keydance/internal/tick"
)

type fixedSecondary struct{ a action.Action }

func (f *fixedSecondary) Secondary() action.Action { return f.a }

var (
	lsft = keycode.LeftShift
	rsft = keycode.RightShift

	caps     = action.Key(keycode.CapsLock)
	ctrlF15  = action.Key(keycode.F15).With(action.LCtrl)
	lshift   = action.Mod(action.LShift)
	rshift   = action.Mod(action.RShift)
	shiftBit = action.LShift
)

func newTestEngine(sec *fixedSecondary) *Engine {
	return New(Config{
		Window:     200,
		LeftKey:    lsft,
		RightKey:   rsft,
		Secondary:  sec,
		RightExtra: shiftBit,
	})
}

func TestSinglePressIsPlainModifier(t *testing.T) {
	e := newTestEngine(&fixedSecondary{caps})

	assert.Equal(t, action.Down(lshift), e.LeftEvent(keycode.Press(lsft, 0)))
	assert.Equal(t, Primary, e.State(Left))
	assert.Equal(t, action.Up(lshift), e.LeftEvent(keycode.Release(lsft, 80)))
	assert.Equal(t, Idle, e.State(Left))
}

func TestDoubleTapAssertsSecondary(t *testing.T) {
	sec := &fixedSecondary{caps}
	e := newTestEngine(sec)

	e.LeftEvent(keycode.Press(lsft, 0))
	e.LeftEvent(keycode.Release(lsft, 50))
	assert.Equal(t, action.Down(caps), e.LeftEvent(keycode.Press(lsft, 120)))
	assert.Equal(t, Secondary, e.State(Left))
	assert.Equal(t, uint8(0), e.Count(), "counter resets on the double tap")
	assert.Equal(t, action.Up(caps), e.LeftEvent(keycode.Release(lsft, 160)))

	// Third press starts over as a plain modifier.
	assert.Equal(t, action.Down(lshift), e.LeftEvent(keycode.Press(lsft, 220)))
}

func TestSecondaryFollowsSourceAtResolution(t *testing.T) {
	sec := &fixedSecondary{caps}
	e := newTestEngine(sec)

	e.LeftEvent(keycode.Press(lsft, 0))
	e.LeftEvent(keycode.Release(lsft, 50))
	sec.a = ctrlF15
	assert.Equal(t, action.Down(ctrlF15), e.LeftEvent(keycode.Press(lsft, 100)))

	// A change while held does not alter what the release undoes.
	sec.a = caps
	assert.Equal(t, action.Up(ctrlF15), e.LeftEvent(keycode.Release(lsft, 140)))
}

func TestRightSideAddsShift(t *testing.T) {
	e := newTestEngine(&fixedSecondary{ctrlF15})

	assert.Equal(t, action.Down(rshift), e.RightEvent(keycode.Press(rsft, 0)))
	e.RightEvent(keycode.Release(rsft, 30))
	want := ctrlF15.With(action.LShift)
	assert.Equal(t, action.Down(want), e.RightEvent(keycode.Press(rsft, 60)))
	assert.Equal(t, action.Up(want), e.RightEvent(keycode.Release(rsft, 90)))
}

func TestAlternatingSidesIsNotDoubleTap(t *testing.T) {
	e := newTestEngine(&fixedSecondary{caps})

	assert.Equal(t, action.Down(lshift), e.LeftEvent(keycode.Press(lsft, 0)))
	assert.Equal(t, action.Up(lshift), e.LeftEvent(keycode.Release(lsft, 40)))
	assert.Equal(t, action.Down(rshift), e.RightEvent(keycode.Press(rsft, 80)))
	assert.Equal(t, action.Up(rshift), e.RightEvent(keycode.Release(rsft, 120)))
	assert.Equal(t, action.Down(lshift), e.LeftEvent(keycode.Press(lsft, 160)))
}

func TestUnrelatedKeyResetsCounter(t *testing.T) {
	e := newTestEngine(&fixedSecondary{caps})

	e.LeftEvent(keycode.Press(lsft, 0))
	e.LeftEvent(keycode.Release(lsft, 40))
	e.Observe(keycode.A)
	assert.Equal(t, uint8(0), e.Count())
	assert.Equal(t, action.Down(lshift), e.LeftEvent(keycode.Press(lsft, 80)))
}

func TestChordedModifierWithOtherKey(t *testing.T) {
	e := newTestEngine(&fixedSecondary{caps})

	// Shift held while typing another key stays an ordinary modifier.
	e.LeftEvent(keycode.Press(lsft, 0))
	e.Observe(keycode.A)
	e.Observe(keycode.A)
	assert.Equal(t, lshift, e.Held(Left))
	assert.Equal(t, action.Up(lshift), e.LeftEvent(keycode.Release(lsft, 100)))
}

func TestTimeoutBetweenTaps(t *testing.T) {
	e := newTestEngine(&fixedSecondary{caps})

	e.LeftEvent(keycode.Press(lsft, 65400))
	e.LeftEvent(keycode.Release(lsft, 65450))
	assert.Equal(t, action.Down(caps), e.LeftEvent(keycode.Press(lsft, 50)), "186 ticks across the wrap")
	e.LeftEvent(keycode.Release(lsft, 60))

	e.LeftEvent(keycode.Press(lsft, 100))
	e.LeftEvent(keycode.Release(lsft, 120))
	assert.Equal(t, action.Down(lshift), e.LeftEvent(keycode.Press(lsft, 400)))
}

func TestSetWindow(t *testing.T) {
	e := newTestEngine(&fixedSecondary{caps})
	e.SetWindow(tick.Duration(30))

	e.LeftEvent(keycode.Press(lsft, 0))
	e.LeftEvent(keycode.Release(lsft, 10))
	assert.Equal(t, action.Down(lshift), e.LeftEvent(keycode.Press(lsft, 50)))
}

func TestNilSecondaryIsNoOp(t *testing.T) {
	e := New(Config{Window: 200, LeftKey: lsft, RightKey: rsft})

	e.LeftEvent(keycode.Press(lsft, 0))
	e.LeftEvent(keycode.Release(lsft, 10))
	assert.Empty(t, e.LeftEvent(keycode.Press(lsft, 20)))
	assert.Empty(t, e.LeftEvent(keycode.Release(lsft, 30)))
}

func TestSideOf(t *testing.T) {
	e := newTestEngine(&fixedSecondary{caps})

	s, ok := e.SideOf(rsft)
	assert.True(t, ok)
	assert.Equal(t, Right, s)
	assert.Equal(t, lsft, e.Key(Left))

	_, ok = e.SideOf(keycode.A)
	assert.False(t, ok)
}
