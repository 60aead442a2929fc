package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"keydance/internal/action"
	"keydance/internal/chatter"
	"keydance/internal/config"
	"keydance/internal/dispatch"
	"keydance/internal/health"
	"keydance/internal/keycode"
	"keydance/internal/logging"
	"keydance/internal/metrics"
	"keydance/internal/mode"
	"keydance/internal/output"
	"keydance/internal/scanner"
	"keydance/internal/store"
	"keydance/internal/tick"
)

// pipeline owns everything between the scanner and the output device.
type pipeline struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *store.Store
	persist mode.Persister
	sel     *mode.Selector

	kbd *output.Keyboard
	out action.Output

	metrics *metrics.KeyboardMetrics
	diag    *logging.DiagLog
	queue   *chatter.ChanSink
	drained chan struct{}

	crash  *logging.CrashHandler
	health *health.Checker
	d      *dispatch.Dispatcher

	// calls carries control requests onto the loop goroutine.
	calls    chan func() error
	stopped  chan struct{}
	stopOnce sync.Once
	started  time.Time
	device   string
}

type pipelineOptions struct {
	// Backend overrides cfg.Output.Backend.
	Backend string
	// Persister replaces the sqlite store, for replays.
	Persister mode.Persister
	// Extra receives every step in addition to the backend.
	Extra action.Output
	// Sink receives chatter records in addition to the queue.
	Sink chatter.Sink
}

func newPipeline(cfg *config.Config, log *logging.Logger, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewKeyboardMetrics(nil),
		health:  health.NewChecker(),
		calls:   make(chan func() error),
		stopped: make(chan struct{}),
		started: time.Now(),
		crash: logging.NewCrashHandler(&logging.CrashHandlerConfig{
			CrashDir:  filepath.Join(filepath.Dir(cfg.Logging.FilePath), "crashes"),
			Version:   version,
			Component: "keydance",
		}),
	}

	if err := p.crash.CleanupOldCrashReports(30 * 24 * time.Hour); err != nil {
		log.Debug("crash report cleanup", "error", err)
	}

	if err := p.openStore(opts.Persister); err != nil {
		return nil, err
	}
	if err := p.openOutput(opts.Backend, opts.Extra); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.openChatter(opts.Sink); err != nil {
		p.Close()
		return nil, err
	}

	keymap, err := cfg.Keymap()
	if err != nil {
		p.Close()
		return nil, err
	}

	p.d, err = dispatch.New(dispatch.Options{
		Keymap:      keymap,
		Timing:      cfg.DispatchTiming(),
		Passthrough: cfg.Input.Passthrough,
		Output:      p.out,
		Selector:    p.sel,
		ChatterSink: p.queue,
		Metrics:     p.metrics,
		Logger:      log.WithComponent("dispatch").Logger,
		OnModeChange: func(from, to mode.Mode, err error) {
			if p.diag != nil {
				p.diag.ModeChange(from.String(), to.String(), err)
			}
		},
	})
	if err != nil {
		p.Close()
		return nil, err
	}
	p.registerChecks()
	return p, nil
}

func (p *pipeline) registerChecks() {
	if p.store != nil {
		p.health.RegisterFunc("store", true, health.PingCheck("database", p.store.Ping))
	}
	p.health.RegisterFunc("chatter_queue", false, health.CounterCheck("dropped", p.queue.Dropped))
	p.health.RegisterFunc("output", false, health.CounterCheck("errors", p.metrics.OutputErrors.Value))
	p.health.RegisterFunc("loop", false, health.CounterCheck("panics", p.metrics.Panics.Value))
}

func (p *pipeline) openStore(override mode.Persister) error {
	p.persist = override
	if override == nil {
		st, err := store.Open(p.cfg.Storage.Path)
		if err != nil {
			return err
		}
		st.OnError(func(err error) {
			p.log.Warn("store chatter record", "error", err)
		})
		p.store = st
		p.persist = st
	}

	sel, err := mode.Load(p.persist)
	if err != nil {
		return fmt.Errorf("load mode: %w", err)
	}
	p.sel = sel
	return nil
}

func (p *pipeline) openOutput(backend string, extra action.Output) error {
	if backend == "" {
		backend = p.cfg.Output.Backend
	}
	logger := p.log.WithComponent("output").Logger

	var next action.Output
	switch backend {
	case "uinput":
		kbd, err := output.NewKeybd(func(err error) {
			p.metrics.OutputErrors.Inc()
			logger.Error("output failed", "error", err)
		})
		if err != nil {
			return err
		}
		p.kbd = kbd
		next = kbd
	case "log":
	default:
		return fmt.Errorf("unknown output backend %q", backend)
	}

	var out action.Output = output.NewLogged(next, logger)
	if extra != nil {
		out = action.Tee(out, extra)
	}
	p.out = out
	return nil
}

func (p *pipeline) openChatter(extra chatter.Sink) error {
	var sinks chatter.Multi
	if p.cfg.Chatter.DiagPath != "" {
		diag, err := logging.OpenDiagLog(p.cfg.Chatter.DiagPath, p.cfg.Chatter.DiagMaxSizeMB)
		if err != nil {
			return err
		}
		p.diag = diag
		sinks = append(sinks, diag)
	}
	if p.store != nil && p.cfg.Chatter.Persist {
		sinks = append(sinks, p.store)
	}
	if extra != nil {
		sinks = append(sinks, extra)
	}

	p.queue = chatter.NewChanSink(p.cfg.Chatter.Buffer)
	p.drained = make(chan struct{})
	go func() {
		defer close(p.drained)
		for rec := range p.queue.C() {
			sinks.Emit(rec)
		}
	}()
	return nil
}

// dispatch runs one event, turning a panic into a crash report. Only a
// failed mode write is returned.
func (p *pipeline) dispatch(ev keycode.Event) error {
	var err error
	panicked := p.crash.Recover(map[string]any{"event": ev.String()}, func() {
		err = p.d.Dispatch(ev)
	})
	if panicked {
		p.metrics.Panics.Inc()
		p.log.Error("event dropped after panic", "event", ev.String())
		return nil
	}
	return err
}

// loop is the single goroutine that touches the dispatcher.
func (p *pipeline) loop(ctx context.Context, events <-chan keycode.Event, reloads <-chan *config.Config, clock tick.Clock) error {
	var pollC <-chan time.Time
	if p.cfg.Timing.PollMS > 0 {
		t := time.NewTicker(time.Duration(p.cfg.Timing.PollMS) * time.Millisecond)
		defer t.Stop()
		pollC = t.C
	}
	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()

	p.health.SetReady(true)
	defer func() {
		p.health.SetReady(false)
		p.stopOnce.Do(func() { close(p.stopped) })
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.dispatch(ev); err != nil {
				return fmt.Errorf("persist mode: %w", err)
			}

		case fn := <-p.calls:
			var err error
			if p.crash.Recover(map[string]any{"op": "control"}, func() {
				err = fn()
			}) {
				p.metrics.Panics.Inc()
			}
			if err != nil {
				return fmt.Errorf("persist mode: %w", err)
			}

		case <-pollC:
			if p.crash.Recover(map[string]any{"op": "poll"}, func() {
				p.d.Poll(clock.Now())
			}) {
				p.metrics.Panics.Inc()
			}

		case cfg := <-reloads:
			p.d.Reconfigure(cfg.DispatchTiming())
			if p.diag != nil {
				p.diag.Note("config reloaded")
			}

		case <-stats.C:
			p.metrics.UpdateUptime()
			p.metrics.ChatterDropped.Set(int64(p.queue.Dropped()))
		}
	}
}

// Close releases held keys and flushes the diagnostic writers.
func (p *pipeline) Close() error {
	var errs []error
	if p.kbd != nil {
		p.kbd.ReleaseAll()
	}
	if p.queue != nil {
		p.queue.Close()
		<-p.drained
	}
	if p.diag != nil {
		errs = append(errs, p.diag.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	return errors.Join(errs...)
}

// pump runs src on its own goroutine and forwards events over a channel.
// The channel closes when src stops; the error, if any, is sent on errc.
func pump(ctx context.Context, src scanner.Source) (<-chan keycode.Event, <-chan error) {
	events := make(chan keycode.Event, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		err := src.Stream(ctx, func(ev keycode.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		errc <- err
	}()
	return events, errc
}
