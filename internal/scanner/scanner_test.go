package scanner

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydance/internal/keycode"
	"keydance/internal/tick"
)

const doubleTap = `{
  "version": 1,
  "description": "right alt double tap",
  "events": [
    {"key": "KEY_RIGHTALT", "pressed": true,  "at": 0},
    {"key": "KEY_RIGHTALT", "pressed": false, "at": 40},
    {"key": "rightalt",     "pressed": true,  "at": 90},
    {"key": "100",          "pressed": false, "at": 130}
  ]
}`

func TestParseScript(t *testing.T) {
	s, err := ParseScript([]byte(doubleTap))
	require.NoError(t, err)
	assert.Equal(t, "right alt double tap", s.Description)
	assert.Equal(t, 130*time.Millisecond, s.Duration())

	events, err := s.KeyEvents(1000)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.Equal(t, keycode.RightAlt, ev.Key)
	}
	assert.Equal(t, tick.Tick(1000), events[0].Time)
	assert.Equal(t, tick.Tick(1130), events[3].Time)
	assert.True(t, events[2].Pressed)
	assert.False(t, events[3].Pressed)
}

func TestParseScriptRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"wrong version", `{"version": 2, "events": []}`},
		{"missing events", `{"version": 1}`},
		{"missing pressed", `{"version": 1, "events": [{"key": "KEY_A", "at": 0}]}`},
		{"negative at", `{"version": 1, "events": [{"key": "KEY_A", "pressed": true, "at": -1}]}`},
		{"extra field", `{"version": 1, "events": [{"key": "KEY_A", "pressed": true, "at": 0, "x": 1}]}`},
		{"empty key", `{"version": 1, "events": [{"key": "", "pressed": true, "at": 0}]}`},
		{"unknown key", `{"version": 1, "events": [{"key": "KEY_NOPE", "pressed": true, "at": 0}]}`},
		{"time goes back", `{"version": 1, "events": [
			{"key": "KEY_A", "pressed": true, "at": 10},
			{"key": "KEY_A", "pressed": false, "at": 5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScript([]byte(tt.data))
			if !errors.Is(err, ErrInvalidScript) {
				t.Fatalf("expected ErrInvalidScript, got %v", err)
			}
		})
	}
}

func TestKeyEventsWrap(t *testing.T) {
	s := &Script{Version: 1, Events: []ScriptEvent{
		{Key: "KEY_A", Pressed: true, At: 0},
		{Key: "KEY_A", Pressed: false, At: 30},
	}}
	events, err := s.KeyEvents(65520)
	require.NoError(t, err)
	assert.Equal(t, tick.Tick(65520), events[0].Time)
	assert.Equal(t, tick.Tick(14), events[1].Time)
	assert.Equal(t, tick.Duration(30), tick.Elapsed(events[0].Time, events[1].Time))
}

func TestNewScriptAccumulatesAcrossWrap(t *testing.T) {
	events := []keycode.Event{
		keycode.Press(keycode.LeftShift, 65530),
		keycode.Release(keycode.LeftShift, 20),
		keycode.Press(keycode.A, 100),
	}
	s := NewScript("wrap", events)
	require.Len(t, s.Events, 3)
	assert.Equal(t, int64(0), s.Events[0].At)
	assert.Equal(t, int64(26), s.Events[1].At)
	assert.Equal(t, int64(106), s.Events[2].At)
	assert.Equal(t, "KEY_LEFTSHIFT", s.Events[0].Key)
}

func TestScriptSaveAndLoad(t *testing.T) {
	events := []keycode.Event{
		keycode.Press(keycode.RightCtrl, 0),
		keycode.Release(keycode.RightCtrl, 250),
	}
	path := filepath.Join(t.TempDir(), "hold.json")
	require.NoError(t, NewScript("hold", events).Save(path))

	s, err := LoadScript(path)
	require.NoError(t, err)
	got, err := s.KeyEvents(0)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestEncodeMatchesSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewScript("", nil).Encode(&buf))
	_, err := ParseScript(buf.Bytes())
	assert.NoError(t, err, "an empty script is still valid")
}

func TestReplayStream(t *testing.T) {
	s, err := ParseScript([]byte(doubleTap))
	require.NoError(t, err)
	r, err := NewReplay(s, ReplayOptions{Base: 7})
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, tick.Tick(137), r.Last())

	got, err := Collect(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, tick.Tick(7), got[0].Time)
	assert.Equal(t, tick.Tick(97), got[2].Time)
}

func TestReplayStopsOnEmitError(t *testing.T) {
	s, err := ParseScript([]byte(doubleTap))
	require.NoError(t, err)
	r, err := NewReplay(s, ReplayOptions{})
	require.NoError(t, err)

	stop := errors.New("stop")
	n := 0
	err = r.Stream(context.Background(), func(keycode.Event) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func TestReplayRealtimeHonorsContext(t *testing.T) {
	s := &Script{Version: 1, Events: []ScriptEvent{
		{Key: "KEY_A", Pressed: true, At: 0},
		{Key: "KEY_A", Pressed: false, At: 60_000},
	}}
	r, err := NewReplay(s, ReplayOptions{Realtime: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := Collect(ctx, r)
	require.NoError(t, err)
	assert.Len(t, got, 1, "only the first event is due before the deadline")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReplayRealtimeSpeed(t *testing.T) {
	s := &Script{Version: 1, Events: []ScriptEvent{
		{Key: "KEY_A", Pressed: true, At: 0},
		{Key: "KEY_A", Pressed: false, At: 40},
	}}
	r, err := NewReplay(s, ReplayOptions{Realtime: true, Speed: 2})
	require.NoError(t, err)

	start := time.Now()
	got, err := Collect(context.Background(), r)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestScriptSchemaIsCopy(t *testing.T) {
	a := ScriptSchema()
	a[0] = 'x'
	assert.Equal(t, byte('{'), ScriptSchema()[0])
}
