package scanner

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"keydance/internal/fileutil"
	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// ScriptVersion is the only script format version.
const ScriptVersion = 1

// ErrInvalidScript wraps every problem found while reading a script.
var ErrInvalidScript = errors.New("invalid replay script")

//go:embed script.schema.json
var scriptSchemaJSON []byte

// ScriptSchema returns the JSON schema replay scripts are checked against.
func ScriptSchema() []byte {
	return append([]byte(nil), scriptSchemaJSON...)
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		const name = "script.schema.json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(scriptSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(name)
	})
	return schema, schemaErr
}

// Script is a recorded or generated key sequence.
type Script struct {
	Version     int           `json:"version"`
	Description string        `json:"description,omitempty"`
	Events      []ScriptEvent `json:"events"`
}

// ScriptEvent is one transition. At is milliseconds since the start of the
// script and never decreases.
type ScriptEvent struct {
	Key     string `json:"key"`
	Pressed bool   `json:"pressed"`
	At      int64  `json:"at"`
}

// ParseScript checks data against the script schema and decodes it.
func ParseScript(data []byte) (*Script, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}

	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if _, err := s.KeyEvents(0); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// NewScript builds a script from events. Offsets accumulate the wrapping
// elapsed time between neighbours, so scripts longer than one tick period
// keep their spacing.
func NewScript(description string, events []keycode.Event) *Script {
	s := &Script{
		Version:     ScriptVersion,
		Description: description,
		Events:      make([]ScriptEvent, 0, len(events)),
	}
	var at int64
	for i, ev := range events {
		if i > 0 {
			at += int64(tick.Elapsed(events[i-1].Time, ev.Time))
		}
		s.Events = append(s.Events, ScriptEvent{
			Key:     ev.Key.String(),
			Pressed: ev.Pressed,
			At:      at,
		})
	}
	return s
}

// KeyEvents converts the script to events whose times start at base.
func (s *Script) KeyEvents(base tick.Tick) ([]keycode.Event, error) {
	out := make([]keycode.Event, 0, len(s.Events))
	var last int64
	for i, se := range s.Events {
		if se.At < last {
			return nil, fmt.Errorf("%w: event %d: at %d is before %d", ErrInvalidScript, i, se.At, last)
		}
		last = se.At
		key, err := keycode.Parse(se.Key)
		if err != nil || key == keycode.None {
			return nil, fmt.Errorf("%w: event %d: unknown key %q", ErrInvalidScript, i, se.Key)
		}
		out = append(out, keycode.Event{
			Key:     key,
			Pressed: se.Pressed,
			Time:    base + tick.Tick(uint64(se.At)),
		})
	}
	return out, nil
}

// Duration is the offset of the last event.
func (s *Script) Duration() time.Duration {
	if len(s.Events) == 0 {
		return 0
	}
	return time.Duration(s.Events[len(s.Events)-1].At) * time.Millisecond
}

// Encode writes the script as indented JSON.
func (s *Script) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Save writes the script to path.
func (s *Script) Save(path string) error {
	var buf bytes.Buffer
	if err := s.Encode(&buf); err != nil {
		return fmt.Errorf("encode script: %w", err)
	}
	if err := fileutil.WriteFile(path, buf.Bytes(), fileutil.PermPublicFile); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	return nil
}

// ReplayOptions controls how a script is played back.
type ReplayOptions struct {
	// Base is the tick of the first event.
	Base tick.Tick
	// Realtime waits between events as recorded. Otherwise events are
	// emitted back to back with their recorded timestamps.
	Realtime bool
	// Speed scales realtime waits; 2 plays twice as fast. Zero means 1.
	Speed float64
}

// Replay is a Source that plays a script.
type Replay struct {
	events  []keycode.Event
	offsets []time.Duration
	opts    ReplayOptions
}

// NewReplay prepares s for playback.
func NewReplay(s *Script, opts ReplayOptions) (*Replay, error) {
	events, err := s.KeyEvents(opts.Base)
	if err != nil {
		return nil, err
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	offsets := make([]time.Duration, len(s.Events))
	for i, se := range s.Events {
		offsets[i] = time.Duration(float64(se.At) / opts.Speed * float64(time.Millisecond))
	}
	return &Replay{events: events, offsets: offsets, opts: opts}, nil
}

// Len returns the number of events.
func (r *Replay) Len() int {
	return len(r.events)
}

// Last returns the time of the last event, or Base for an empty script.
func (r *Replay) Last() tick.Tick {
	if len(r.events) == 0 {
		return r.opts.Base
	}
	return r.events[len(r.events)-1].Time
}

// Stream emits every event, waiting between them in realtime mode.
func (r *Replay) Stream(ctx context.Context, emit func(keycode.Event) error) error {
	start := time.Now()
	for i, ev := range r.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.opts.Realtime {
			if wait := r.offsets[i] - time.Since(start); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}
