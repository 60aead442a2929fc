package output

import (
	"log/slog"

	"keydance/internal/action"
)

// Logged wraps an Output and logs every step at debug level. A nil next
// makes it a log-only backend.
type Logged struct {
	next   action.Output
	logger *slog.Logger
}

func NewLogged(next action.Output, logger *slog.Logger) *Logged {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logged{next: next, logger: logger}
}

func (l *Logged) Assert(a action.Action) {
	l.logger.Debug("assert", "action", a.String())
	if l.next != nil {
		l.next.Assert(a)
	}
}

func (l *Logged) Deassert(a action.Action) {
	l.logger.Debug("deassert", "action", a.String())
	if l.next != nil {
		l.next.Deassert(a)
	}
}
