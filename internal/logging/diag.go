package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"keydance/internal/chatter"
)

// DiagLog is the append-only diagnostics file. It records chatter reports,
// mode changes and config reloads as plain console lines.
type DiagLog struct {
	mu      sync.Mutex
	log     zerolog.Logger
	rotator *FileRotator
}

// OpenDiagLog opens the diagnostics file at path, rotating at maxSizeMB.
func OpenDiagLog(path string, maxSizeMB int64) (*DiagLog, error) {
	r, err := NewFileRotator(&Config{
		FilePath:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("open diagnostics log: %w", err)
	}
	d := NewDiagLog(r)
	d.rotator = r
	return d, nil
}

// NewDiagLog writes diagnostics to w.
func NewDiagLog(w io.Writer) *DiagLog {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	return &DiagLog{
		log: zerolog.New(consoleWriter).With().Timestamp().Int("pid", os.Getpid()).Logger(),
	}
}

// Emit implements chatter.Sink.
func (d *DiagLog) Emit(r chatter.Record) {
	deltas := make([]int, len(r.Deltas))
	for i, v := range r.Deltas {
		deltas[i] = int(v)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log.Warn().
		Str("key", r.Key.String()).
		Bool("pressed", r.Pressed).
		Ints("deltas_ms", deltas).
		Msg("chatter")
}

// ModeChange records a mode switch and whether it was persisted.
func (d *DiagLog) ModeChange(from, to string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev := d.log.Info()
	if err != nil {
		ev = d.log.Error().Err(err)
	}
	ev.Str("from", from).Str("to", to).Msg("mode")
}

// Note writes a free-form info line.
func (d *DiagLog) Note(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log.Info().Msg(msg)
}

// Close closes the underlying file when DiagLog opened it.
func (d *DiagLog) Close() error {
	if d.rotator != nil {
		return d.rotator.Close()
	}
	return nil
}

var _ chatter.Sink = (*DiagLog)(nil)
