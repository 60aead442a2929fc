package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydance/internal/config"
	"keydance/internal/health"
	"keydance/internal/ipc"
	"keydance/internal/keycode"
	"keydance/internal/logging"
	"keydance/internal/mode"
	"keydance/internal/output"
	"keydance/internal/scanner"
	"keydance/internal/store"
	"keydance/internal/tick"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("KEYDANCE_DATA_DIR", dir)
	cfg := config.DefaultConfig()
	cfg.Output.Backend = "log"
	cfg.Storage.Path = filepath.Join(dir, "keydance.db")
	cfg.Logging.FilePath = filepath.Join(dir, "keydance.log")
	cfg.Chatter.DiagPath = filepath.Join(dir, "chatter.log")
	cfg.Timing.PollMS = 0
	cfg.Keys["KEY_F14"] = "mode_b"
	return cfg
}

type harness struct {
	p    *pipeline
	rec  *output.Recorder
	chat *chatterLog
	mem  *store.Memory
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		rec:  output.NewRecorder(),
		chat: &chatterLog{},
		mem:  store.NewMemory(0),
	}
	log := logging.NewWithWriter(io.Discard, nil)
	p, err := newPipeline(cfg, log, pipelineOptions{
		Persister: h.mem,
		Extra:     h.rec,
		Sink:      h.chat,
	})
	require.NoError(t, err)
	h.p = p
	return h
}

func runEvents(t *testing.T, h *harness, evs ...keycode.Event) error {
	t.Helper()
	events := make(chan keycode.Event, len(evs))
	for _, ev := range evs {
		events <- ev
	}
	close(events)
	return h.p.loop(context.Background(), events, nil, tick.NewManual(0))
}

func TestPipelineShiftDoubleTap(t *testing.T) {
	h := newHarness(t, testConfig(t))

	err := runEvents(t, h,
		keycode.Press(keycode.LeftShift, 0),
		keycode.Release(keycode.LeftShift, 50),
		keycode.Press(keycode.LeftShift, 100),
		keycode.Release(keycode.LeftShift, 300),
	)
	require.NoError(t, err)
	require.NoError(t, h.p.Close())

	assert.True(t, h.rec.Balanced())
	held := false
	for _, s := range h.rec.Steps() {
		if s.Action == mode.ModeA.Secondary() {
			held = true
		}
	}
	assert.True(t, held, "double tap asserts caps lock in mode a")
}

func TestPipelineModeKeyPersists(t *testing.T) {
	h := newHarness(t, testConfig(t))

	err := runEvents(t, h,
		keycode.Press(keycode.F14, 0),
		keycode.Release(keycode.F14, 30),
	)
	require.NoError(t, err)
	require.NoError(t, h.p.Close())

	assert.Equal(t, mode.ModeB, h.p.sel.Mode())
	raw, err := h.mem.Load()
	require.NoError(t, err)
	assert.Equal(t, byte(mode.ModeB), raw)
}

func TestPipelineStopsOnPersistFailure(t *testing.T) {
	h := newHarness(t, testConfig(t))
	h.mem.FailWith(errors.New("disk full"))

	err := runEvents(t, h,
		keycode.Press(keycode.F14, 0),
		keycode.Press(keycode.A, 10),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, mode.ModeA, h.p.sel.Mode())
	require.NoError(t, h.p.Close())
}

func TestPipelineChatterReachesSinks(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg)

	err := runEvents(t, h,
		keycode.Press(keycode.A, 0),
		keycode.Release(keycode.A, 3),
		keycode.Press(keycode.A, 7),
		keycode.Release(keycode.A, 12),
	)
	require.NoError(t, err)
	require.NoError(t, h.p.Close())

	require.Len(t, h.chat.recs, 1)
	assert.Equal(t, keycode.A, h.chat.recs[0].Key)

	data, err := os.ReadFile(cfg.Chatter.DiagPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "chatter"))
}

func TestPipelineReconfigure(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg)
	defer h.p.Close()

	next := cfg.Clone()
	next.Timing.TappingTermMS = 120

	ctx, cancel := context.WithCancel(context.Background())
	reloads := make(chan *config.Config, 1)
	reloads <- next
	done := make(chan error, 1)
	go func() { done <- h.p.loop(ctx, make(chan keycode.Event), reloads, tick.NewManual(0)) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(reloads) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, tick.Duration(120), h.p.d.Timing().Window)
}

func TestPumpForwardsReplay(t *testing.T) {
	s := scanner.NewScript("", []keycode.Event{
		keycode.Press(keycode.A, 0),
		keycode.Release(keycode.A, 20),
	})
	r, err := scanner.NewReplay(s, scanner.ReplayOptions{Base: 5})
	require.NoError(t, err)

	events, errc := pump(context.Background(), r)
	var got []keycode.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 2)
	assert.Equal(t, tick.Tick(25), got[1].Time)
}

func TestPipelineHealthChecks(t *testing.T) {
	h := newHarness(t, testConfig(t))
	defer h.p.Close()

	assert.False(t, h.p.health.IsReady())
	resp := h.p.health.Response(context.Background())
	assert.Equal(t, health.StatusHealthy, resp.Status)
	assert.Contains(t, resp.Components, "chatter_queue")
	assert.NotContains(t, resp.Components, "store", "replays run without the database")

	h.p.metrics.Panics.Inc()
	resp = h.p.health.Response(context.Background())
	assert.Equal(t, health.StatusDegraded, resp.Status)
}

func TestControlSetModeOnLoop(t *testing.T) {
	h := newHarness(t, testConfig(t))
	defer h.p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.loop(ctx, make(chan keycode.Event), nil, tick.NewManual(0)) }()

	payload, err := ipc.Encode(&ipc.SetModeRequest{Mode: "b"})
	require.NoError(t, err)
	reply, err := h.p.HandleMessage(ctx, ipc.NewMessage(ipc.MsgSetMode, 1, payload))
	require.NoError(t, err)

	var resp ipc.SetModeResponse
	require.NoError(t, ipc.Decode(reply.Payload, &resp))
	assert.Equal(t, "a", resp.From)
	assert.Equal(t, "b", resp.To)

	reply, err = h.p.HandleMessage(ctx, ipc.NewMessage(ipc.MsgStatusRequest, 2, nil))
	require.NoError(t, err)
	var st ipc.StatusResponse
	require.NoError(t, ipc.Decode(reply.Payload, &st))
	assert.Equal(t, "b", st.Mode)
	assert.Equal(t, 200, st.TappingTermMS)

	_, err = h.p.HandleMessage(ctx, ipc.NewMessage(ipc.MsgSetMode, 3, []byte(`{"mode":"q"}`)))
	assert.Error(t, err)

	cancel()
	require.NoError(t, <-done)

	raw, err := h.mem.Load()
	require.NoError(t, err)
	assert.Equal(t, byte(mode.ModeB), raw)

	_, err = h.p.HandleMessage(context.Background(), ipc.NewMessage(ipc.MsgStatusRequest, 4, nil))
	assert.ErrorIs(t, err, errLoopStopped)
}

func TestControlPersistFailureStopsLoop(t *testing.T) {
	h := newHarness(t, testConfig(t))
	defer h.p.Close()
	h.mem.FailWith(errors.New("disk full"))

	done := make(chan error, 1)
	go func() {
		done <- h.p.loop(context.Background(), make(chan keycode.Event), nil, tick.NewManual(0))
	}()

	payload, _ := ipc.Encode(&ipc.SetModeRequest{Mode: "b"})
	_, err := h.p.HandleMessage(context.Background(), ipc.NewMessage(ipc.MsgSetMode, 1, payload))
	require.Error(t, err)

	loopErr := <-done
	require.Error(t, loopErr)
	assert.Contains(t, loopErr.Error(), "disk full")
	assert.Equal(t, mode.ModeA, h.p.sel.Mode())
}
