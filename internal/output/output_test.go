package output

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydance/internal/action"
	"keydance/internal/keycode"
)

type fakeDev struct {
	log  []string
	fail error
}

func (f *fakeDev) press(k keycode.KeyID) error {
	f.log = append(f.log, "+"+k.String())
	return f.fail
}

func (f *fakeDev) release(k keycode.KeyID) error {
	f.log = append(f.log, "-"+k.String())
	return f.fail
}

func TestKeyboardPressOrder(t *testing.T) {
	dev := &fakeDev{}
	kb := newKeyboard(dev, nil)

	a := action.Key(keycode.F15).With(action.LCtrl)
	kb.Assert(a)
	kb.Deassert(a)

	assert.Equal(t, []string{
		"+KEY_LEFTCTRL", "+KEY_F15",
		"-KEY_F15", "-KEY_LEFTCTRL",
	}, dev.log)
	assert.Empty(t, kb.Down())
}

func TestKeyboardSharedModifier(t *testing.T) {
	dev := &fakeDev{}
	kb := newKeyboard(dev, nil)

	shift := action.Mod(action.LShift)
	combo := action.Key(keycode.F15).With(action.LCtrl | action.LShift)

	kb.Assert(shift)
	kb.Assert(combo)
	kb.Deassert(combo)

	// LShift is still held by the first action.
	assert.NotContains(t, dev.log, "-KEY_LEFTSHIFT")
	assert.ElementsMatch(t, []keycode.KeyID{keycode.LeftShift}, kb.Down())

	kb.Deassert(shift)
	assert.Equal(t, "-KEY_LEFTSHIFT", dev.log[len(dev.log)-1])
}

func TestKeyboardUnmatchedDeassert(t *testing.T) {
	dev := &fakeDev{}
	kb := newKeyboard(dev, nil)
	kb.Deassert(action.Key(keycode.A))
	assert.Empty(t, dev.log)
}

func TestKeyboardLayers(t *testing.T) {
	kb := newKeyboard(&fakeDev{}, nil)
	fn := action.Momentary(action.LayerFn)

	kb.Assert(fn)
	assert.True(t, kb.Layers().Active(action.LayerFn))
	assert.Equal(t, action.LayerFn, kb.Layers().Top())
	kb.Deassert(fn)
	assert.False(t, kb.Layers().Active(action.LayerFn))
	assert.Equal(t, action.NoLayer, kb.Layers().Top())
}

func TestKeyboardErrors(t *testing.T) {
	boom := errors.New("uinput gone")
	var got []error
	kb := newKeyboard(&fakeDev{fail: boom}, func(err error) { got = append(got, err) })

	kb.Assert(action.Key(keycode.A))
	kb.Deassert(action.Key(keycode.A))
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0], boom)
}

func TestKeyboardReleaseAll(t *testing.T) {
	dev := &fakeDev{}
	kb := newKeyboard(dev, nil)
	kb.Assert(action.Mod(action.RAlt | action.RGui))
	kb.Assert(action.Momentary(action.LayerFn))
	kb.ReleaseAll()

	assert.Empty(t, kb.Down())
	assert.Contains(t, dev.log, "-KEY_RIGHTALT")
	assert.Contains(t, dev.log, "-KEY_RIGHTMETA")
	assert.Equal(t, action.NoLayer, kb.Layers().Top())
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	a := action.Key(keycode.CapsLock)
	b := action.Mod(action.LShift)

	action.Apply(r, action.Down(b))
	action.Apply(r, action.Tap(a))
	assert.False(t, r.Balanced())
	assert.Equal(t, map[action.Action]int{b: 1}, r.Held())

	action.Apply(r, action.Up(b))
	assert.True(t, r.Balanced())
	assert.Empty(t, r.Held())
	assert.Len(t, r.Steps(), 4)

	r.Reset()
	assert.Empty(t, r.Steps())
}

func TestRecorderDeassertBeforeAssert(t *testing.T) {
	r := NewRecorder()
	a := action.Key(keycode.A)
	r.Deassert(a)
	r.Assert(a)
	assert.False(t, r.Balanced())
}

func TestLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rec := NewRecorder()
	l := NewLogged(rec, logger)

	a := action.Mod(action.RAlt)
	l.Assert(a)
	l.Deassert(a)

	assert.True(t, rec.Balanced())
	out := buf.String()
	assert.True(t, strings.Contains(out, "msg=assert action=RAlt"), out)
	assert.True(t, strings.Contains(out, "msg=deassert action=RAlt"), out)

	// Log-only backend.
	NewLogged(nil, logger).Assert(a)
}

func TestLayersRefCount(t *testing.T) {
	l := NewLayers()
	fn := action.Momentary(action.LayerFn)
	l.Assert(fn)
	l.Assert(fn)
	l.Deassert(fn)
	assert.True(t, l.Active(action.LayerFn))
	l.Deassert(fn)
	assert.False(t, l.Active(action.LayerFn))

	l.Assert(action.Key(keycode.A))
	assert.Equal(t, action.NoLayer, l.Top())
}
