// Package chatter flags keys that report transitions faster than a human
// can type, the usual sign of a bouncing switch.
package chatter

import (
	"fmt"
	"strings"

	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// Capacity is the number of timestamps the ring keeps.
const Capacity = 4

// DefaultThreshold is the delta below which a transition counts as chatter.
const DefaultThreshold tick.Duration = 20

// Config controls when a Window reports.
type Config struct {
	// Threshold is the exclusive upper bound for a suspicious delta.
	Threshold tick.Duration
	// Verbose reports the ring whenever it holds at least three entries.
	Verbose bool
}

// Record is one chatter observation.
type Record struct {
	Key     keycode.KeyID
	Pressed bool
	Deltas  []tick.Duration
}

func (r Record) String() string {
	ds := make([]string, len(r.Deltas))
	for i, d := range r.Deltas {
		ds[i] = fmt.Sprintf("%d", d)
	}
	state := "up"
	if r.Pressed {
		state = "down"
	}
	return fmt.Sprintf("%s %s deltas=[%s]", r.Key, state, strings.Join(ds, " "))
}

// Window is the ring of recent timestamps for the most recent key.
type Window struct {
	cfg  Config
	sink Sink

	key      keycode.KeyID
	tracked  bool
	stamps   [Capacity]tick.Tick
	n        int
	reported bool
}

// New returns a Window reporting to sink. sink may be nil.
func New(cfg Config, sink Sink) *Window {
	return &Window{cfg: cfg, sink: sink}
}

// SetConfig replaces the reporting config. The ring is kept.
func (w *Window) SetConfig(cfg Config) {
	w.cfg = cfg
}

// Config returns the current reporting config.
func (w *Window) Config() Config {
	return w.cfg
}

// Reset empties the ring.
func (w *Window) Reset() {
	w.tracked = false
	w.n = 0
	w.reported = false
}

// Observe records ev and reports chatter to the sink. It never changes what
// the rest of the pipeline does with ev.
//
// A burst is reported once, when the ring first fills with fast deltas.
// Further fast events stay quiet until a slow delta or a key change ends
// the burst.
func (w *Window) Observe(ev keycode.Event) (Record, bool) {
	if !w.tracked || ev.Key != w.key {
		w.key = ev.Key
		w.tracked = true
		w.stamps[0] = ev.Time
		w.n = 1
		w.reported = false
		return Record{}, false
	}

	if tick.Elapsed(w.stamps[w.n-1], ev.Time) >= w.cfg.Threshold {
		w.reported = false
	}
	if w.n == Capacity {
		copy(w.stamps[:], w.stamps[1:])
		w.n--
	}
	w.stamps[w.n] = ev.Time
	w.n++

	var (
		rec Record
		ok  bool
	)
	switch {
	case w.cfg.Verbose:
		if w.n >= 3 {
			rec, ok = w.record(ev), true
		}
	case w.n == Capacity && !w.reported:
		rec = w.record(ev)
		ok = true
		for _, d := range rec.Deltas {
			if d >= w.cfg.Threshold {
				ok = false
				break
			}
		}
		w.reported = ok
	}

	if ok && w.sink != nil {
		w.sink.Emit(rec)
	}
	return rec, ok
}

func (w *Window) record(ev keycode.Event) Record {
	deltas := make([]tick.Duration, w.n-1)
	for i := 1; i < w.n; i++ {
		deltas[i-1] = tick.Elapsed(w.stamps[i-1], w.stamps[i])
	}
	return Record{Key: ev.Key, Pressed: ev.Pressed, Deltas: deltas}
}

// Len returns the number of timestamps in the ring.
func (w *Window) Len() int {
	return w.n
}
