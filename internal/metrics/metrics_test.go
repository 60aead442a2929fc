package metrics

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydance/internal/action"
	"keydance/internal/keycode"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry("kd")
	c := r.Counter("things_total", "Things", nil)
	c.Inc()
	c.Add(2)
	assert.Equal(t, uint64(3), c.Value())
	assert.Same(t, c, r.Counter("things_total", "Things", nil))

	g := r.Gauge("level", "Level", nil)
	g.Set(5)
	g.Add(-2)
	assert.Equal(t, int64(3), g.Value())
}

func TestLabelledCountersAreDistinct(t *testing.T) {
	r := NewRegistry("kd")
	a := r.Counter("events_total", "Events", Labels{"state": "down"})
	b := r.Counter("events_total", "Events", Labels{"state": "up"})
	a.Inc()
	assert.NotSame(t, a, b)
	assert.Equal(t, uint64(0), b.Value())

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "# TYPE kd_events_total counter"))
	assert.Contains(t, out, `kd_events_total{state="down"} 1`)
	assert.Contains(t, out, `kd_events_total{state="up"} 0`)
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("lat", "Latency", nil, []float64{1, 2})
	h.Observe(0.5)
	h.Observe(1)
	h.Observe(3)
	h.ObserveDuration(1500 * time.Millisecond)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 6.0, h.Sum(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `lat_bucket{le="1"} 2`)
	assert.Contains(t, out, `lat_bucket{le="2"} 3`)
	assert.Contains(t, out, `lat_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "lat_count 4")
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("kd")
	r.Counter("x_total", "X", nil).Inc()

	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "kd_x_total 1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, req)

	var snap map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap["kd_x_total"])
}

func TestKeyboardMetrics(t *testing.T) {
	m := NewKeyboardMetrics(nil)

	m.ObserveEvent(true)
	m.ObserveEvent(true)
	m.ObserveEvent(false)
	m.ObserveSteps(action.Tap(action.Key(keycode.CapsLock)))
	m.ObserveSteps(action.Down(action.Mod(action.LShift)))
	m.ObserveRole("right_alt")
	m.ObserveRole("right_alt")
	m.UpdateUptime()

	assert.Equal(t, uint64(2), m.PressesTotal.Value())
	assert.Equal(t, uint64(1), m.ReleasesTotal.Value())
	assert.Equal(t, uint64(2), m.AssertsTotal.Value())
	assert.Equal(t, uint64(1), m.DeassertsTotal.Value())

	snap := m.Registry().Snapshot()
	assert.Equal(t, int64(2), snap[`keydance_role_events_total{role="right_alt"}`])
}
