// Package dispatch routes raw key events through the keydance pipeline.
//
// Every event is first shown to the chatter window, then routed by its
// keymap role to the tap classifier, the composite engine, the mode
// selector or straight through as a plain key. The resulting steps are
// applied to the output in order before Dispatch returns. A Dispatcher is
// not safe for concurrent use; callers serialize Dispatch, Poll and
// Reconfigure on one goroutine.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keydance/internal/action"
	"keydance/internal/chatter"
	"keydance/internal/composite"
	"keydance/internal/dance"
	"keydance/internal/keycode"
	"keydance/internal/metrics"
	"keydance/internal/mode"
	"keydance/internal/tick"
)

// Timing holds the settings that can change while running.
type Timing struct {
	// Window is the tapping window shared by the classifier and the
	// composite engine.
	Window tick.Duration
	// ChatterEnabled turns the chatter window on.
	ChatterEnabled bool
	Chatter        chatter.Config
}

// DefaultTiming returns a 200 tick window with chatter detection on.
func DefaultTiming() Timing {
	return Timing{
		Window:         dance.DefaultWindow,
		ChatterEnabled: true,
		Chatter:        chatter.Config{Threshold: chatter.DefaultThreshold},
	}
}

// Options configures a Dispatcher. Output and Selector are required.
type Options struct {
	Keymap      Keymap
	Timing      Timing
	Passthrough bool

	Output   action.Output
	Selector *mode.Selector

	// ChatterSink receives chatter records. It must not block.
	ChatterSink chatter.Sink
	Metrics     *metrics.KeyboardMetrics
	Logger      *slog.Logger

	// OnModeChange is called after every mode change attempt.
	OnModeChange func(from, to mode.Mode, err error)
}

// Dispatcher is the single entry point for raw key events.
type Dispatcher struct {
	keymap      Keymap
	passthrough bool
	timing      Timing

	out        action.Output
	selector   *mode.Selector
	classifier *dance.Classifier
	engine     *composite.Engine
	chatter    *chatter.Window

	// Actions asserted by lang-switch and plain keys, keyed by the key
	// that asserted them.
	held map[keycode.KeyID]action.Action

	metrics      *metrics.KeyboardMetrics
	logger       *slog.Logger
	onModeChange func(from, to mode.Mode, err error)
}

// New builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Output == nil {
		return nil, fmt.Errorf("dispatch: output is required")
	}
	if opts.Selector == nil {
		return nil, fmt.Errorf("dispatch: mode selector is required")
	}
	if opts.Keymap == nil {
		opts.Keymap = DefaultKeymap()
	}
	if err := opts.Keymap.Validate(); err != nil {
		return nil, err
	}
	if opts.Timing.Window == 0 {
		opts.Timing.Window = dance.DefaultWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &Dispatcher{
		keymap:       opts.Keymap,
		passthrough:  opts.Passthrough,
		timing:       opts.Timing,
		out:          opts.Output,
		selector:     opts.Selector,
		classifier:   dance.New(opts.Timing.Window),
		chatter:      chatter.New(opts.Timing.Chatter, opts.ChatterSink),
		held:         make(map[keycode.KeyID]action.Action),
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		onModeChange: opts.OnModeChange,
	}

	for key, role := range opts.Keymap {
		switch role {
		case RoleRightAlt:
			d.classifier.Register(key, dance.RightAlt())
		case RoleRightCtrl:
			d.classifier.Register(key, dance.RightCtrl())
		}
	}

	left, _ := opts.Keymap.Find(RoleLeftShift)
	right, _ := opts.Keymap.Find(RoleRightShift)
	d.engine = composite.New(composite.Config{
		Window:     opts.Timing.Window,
		LeftKey:    left,
		RightKey:   right,
		Secondary:  opts.Selector,
		RightExtra: action.LShift,
	})

	if d.metrics != nil {
		d.metrics.Mode.Set(int64(opts.Selector.Mode()))
	}
	return d, nil
}

// Dispatch runs one event through the pipeline and applies the resulting
// steps. The only error is a failed mode persistence; steps produced before
// the failure have already been applied.
func (d *Dispatcher) Dispatch(ev keycode.Event) error {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.ObserveEvent(ev.Pressed)
		defer func() { d.metrics.DispatchLatency.ObserveDuration(time.Since(start)) }()
	}

	if d.timing.ChatterEnabled {
		if rec, ok := d.chatter.Observe(ev); ok {
			if d.metrics != nil {
				d.metrics.ChatterTotal.Inc()
			}
			d.logger.Debug("chatter", "key", rec.Key.String(), "deltas", rec.Deltas)
		}
	}

	role := d.keymap[ev.Key]
	if role != RoleLeftShift && role != RoleRightShift {
		d.engine.Observe(ev.Key)
	}

	var steps []action.Step
	if ev.Pressed {
		steps = d.classifier.Interrupt(ev.Key)
	}

	var err error
	switch role {
	case RoleRightAlt, RoleRightCtrl:
		steps = append(steps, d.classifier.OnEvent(ev)...)
	case RoleLeftShift:
		steps = append(steps, d.engine.LeftEvent(ev)...)
	case RoleRightShift:
		steps = append(steps, d.engine.RightEvent(ev)...)
	case RoleLangSwitch:
		steps = append(steps, d.hold(ev, d.selector.Secondary())...)
	case RoleModeA:
		if ev.Pressed {
			err = d.setMode(mode.ModeA)
		}
	case RoleModeB:
		if ev.Pressed {
			err = d.setMode(mode.ModeB)
		}
	default:
		if d.passthrough {
			steps = append(steps, d.hold(ev, action.Key(ev.Key))...)
		}
	}

	d.apply(steps)
	if d.metrics != nil {
		d.metrics.ObserveRole(role.String())
	}
	return err
}

// hold asserts a on press and deasserts whatever the same key asserted on
// release. A repeated press while held asserts nothing new.
func (d *Dispatcher) hold(ev keycode.Event, a action.Action) []action.Step {
	if ev.Pressed {
		if _, ok := d.held[ev.Key]; ok {
			return nil
		}
		d.held[ev.Key] = a
		return action.Down(a)
	}
	prev, ok := d.held[ev.Key]
	if !ok {
		return nil
	}
	delete(d.held, ev.Key)
	return action.Up(prev)
}

func (d *Dispatcher) setMode(m mode.Mode) error {
	from := d.selector.Mode()
	err := d.selector.SetMode(m)
	if d.onModeChange != nil {
		d.onModeChange(from, m, err)
	}
	if err != nil {
		if d.metrics != nil {
			d.metrics.PersistErrors.Inc()
		}
		return err
	}
	d.logger.Info("mode changed", "from", from.String(), "to", m.String())
	if d.metrics != nil {
		d.metrics.ModeChanges.Inc()
		d.metrics.Mode.Set(int64(m))
	}
	return nil
}

func (d *Dispatcher) apply(steps []action.Step) {
	if len(steps) == 0 {
		return
	}
	action.Apply(d.out, steps)
	if d.metrics != nil {
		d.metrics.ObserveSteps(steps)
	}
	if d.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, s := range steps {
			d.logger.Debug("step", "op", s.Op.String(), "action", s.Action.String())
		}
	}
}

// Poll resolves holds whose tapping window has passed without a release.
// It is optional; every other behavior is the same without it.
func (d *Dispatcher) Poll(now tick.Tick) {
	d.apply(d.classifier.Poll(now))
}

// Reconfigure applies new timing to subsequent events. Sessions in flight
// keep their state.
func (d *Dispatcher) Reconfigure(t Timing) {
	if t.Window == 0 {
		t.Window = dance.DefaultWindow
	}
	d.timing = t
	d.classifier.SetWindow(t.Window)
	d.engine.SetWindow(t.Window)
	d.chatter.SetConfig(t.Chatter)
	if !t.ChatterEnabled {
		d.chatter.Reset()
	}
	if d.metrics != nil {
		d.metrics.ConfigReloads.Inc()
	}
	d.logger.Info("timing updated", "window", int(t.Window), "chatter", t.ChatterEnabled,
		"chatter_threshold", int(t.Chatter.Threshold))
}

// Timing returns the timing in effect.
func (d *Dispatcher) Timing() Timing {
	return d.timing
}

// SetMode persists m the same way a mode key does.
func (d *Dispatcher) SetMode(m mode.Mode) error {
	return d.setMode(m)
}

// Mode returns the current mode.
func (d *Dispatcher) Mode() mode.Mode {
	return d.selector.Mode()
}

// Status is a point-in-time view of the pipeline, for logs and the CLI.
type Status struct {
	Mode           mode.Mode
	Window         tick.Duration
	CompositeCount uint8
	Left           composite.State
	Right          composite.State
	Held           []action.Action
}

// Status returns the current pipeline state.
func (d *Dispatcher) Status() Status {
	st := Status{
		Mode:           d.selector.Mode(),
		Window:         d.timing.Window,
		CompositeCount: d.engine.Count(),
		Left:           d.engine.State(composite.Left),
		Right:          d.engine.State(composite.Right),
	}
	for key, role := range d.keymap {
		switch role {
		case RoleRightAlt, RoleRightCtrl:
			if a := d.classifier.Held(key); !a.IsNoOp() {
				st.Held = append(st.Held, a)
			}
		}
	}
	for _, s := range []composite.Side{composite.Left, composite.Right} {
		if a := d.engine.Held(s); !a.IsNoOp() {
			st.Held = append(st.Held, a)
		}
	}
	for _, a := range d.held {
		st.Held = append(st.Held, a)
	}
	return st
}
