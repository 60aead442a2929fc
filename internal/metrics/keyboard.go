package metrics

import (
	"time"

	"keydance/internal/action"
)

// KeyboardMetrics holds the keydance series.
type KeyboardMetrics struct {
	registry *Registry
	start    time.Time

	PressesTotal   *Counter
	ReleasesTotal  *Counter
	AssertsTotal   *Counter
	DeassertsTotal *Counter
	ChatterTotal   *Counter
	ModeChanges    *Counter
	PersistErrors  *Counter
	ConfigReloads  *Counter
	Panics         *Counter
	OutputErrors   *Counter

	Mode           *Gauge
	ChatterDropped *Gauge
	UptimeSeconds  *Gauge

	DispatchLatency *Histogram
}

// NewKeyboardMetrics registers the keydance series on registry. A nil
// registry gets a private one.
func NewKeyboardMetrics(registry *Registry) *KeyboardMetrics {
	if registry == nil {
		registry = NewRegistry("keydance")
	}

	return &KeyboardMetrics{
		registry: registry,
		start:    time.Now(),

		PressesTotal:   registry.Counter("key_events_total", "Raw key events seen", Labels{"state": "down"}),
		ReleasesTotal:  registry.Counter("key_events_total", "Raw key events seen", Labels{"state": "up"}),
		AssertsTotal:   registry.Counter("output_steps_total", "Steps issued to the output layer", Labels{"op": "assert"}),
		DeassertsTotal: registry.Counter("output_steps_total", "Steps issued to the output layer", Labels{"op": "deassert"}),
		ChatterTotal:   registry.Counter("chatter_records_total", "Chatter records reported", nil),
		ModeChanges:    registry.Counter("mode_changes_total", "Persisted mode changes", nil),
		PersistErrors:  registry.Counter("persist_errors_total", "Failed writes of the persisted config byte", nil),
		ConfigReloads:  registry.Counter("config_reloads_total", "Applied configuration reloads", nil),
		Panics:         registry.Counter("loop_panics_total", "Panics recovered in the event loop", nil),
		OutputErrors:   registry.Counter("output_errors_total", "Failed writes to the output device", nil),

		Mode:           registry.Gauge("mode", "Current secondary-action mode (0 = caps, 1 = ctrl+f15)", nil),
		ChatterDropped: registry.Gauge("chatter_dropped", "Chatter records dropped because the sink was full", nil),
		UptimeSeconds:  registry.Gauge("uptime_seconds", "Seconds since the daemon started", nil),

		DispatchLatency: registry.Histogram("dispatch_seconds", "Time spent dispatching one event", nil, LatencyBuckets),
	}
}

// Registry returns the underlying registry.
func (m *KeyboardMetrics) Registry() *Registry {
	return m.registry
}

// ObserveEvent counts one raw event.
func (m *KeyboardMetrics) ObserveEvent(pressed bool) {
	if pressed {
		m.PressesTotal.Inc()
	} else {
		m.ReleasesTotal.Inc()
	}
}

// ObserveSteps counts output steps by direction.
func (m *KeyboardMetrics) ObserveSteps(steps []action.Step) {
	for _, s := range steps {
		switch s.Op {
		case action.Assert:
			m.AssertsTotal.Inc()
		case action.Deassert:
			m.DeassertsTotal.Inc()
		}
	}
}

// ObserveRole counts a dispatch to a keymap role.
func (m *KeyboardMetrics) ObserveRole(role string) {
	m.registry.Counter("role_events_total", "Events routed per keymap role", Labels{"role": role}).Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (m *KeyboardMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.start).Seconds()))
}
