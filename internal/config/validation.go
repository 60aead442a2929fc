package config

import (
	"fmt"
	"net"
	"strings"

	"keydance/internal/dispatch"
	"keydance/internal/keycode"
	"keydance/internal/tick"
)

// MaxTappingTermMS bounds the tapping window well inside the wrapping
// tick range, so elapsed times never alias.
const MaxTappingTermMS = int(tick.Max / 2)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// IsWarning reports whether the error is advisory only.
func (e *ValidationError) IsWarning() bool {
	return strings.HasPrefix(e.Message, "warning:")
}

// Warnings returns only the advisory entries.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for i := range e {
		if e[i].IsWarning() {
			out = append(out, e[i])
		}
	}
	return out
}

// Errors returns only the entries that make the config unusable.
func (e ValidationErrors) Errors() ValidationErrors {
	var out ValidationErrors
	for i := range e {
		if !e[i].IsWarning() {
			out = append(out, e[i])
		}
	}
	return out
}

// HasErrors reports whether any entry is not a warning.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RangeError builds an out-of-range error for field.
func RangeError(field string, min, max int) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be between %d and %d", min, max),
	}
}

// ValidateConfig performs comprehensive validation of the configuration.
// Only entries that are not warnings are returned as an error.
func ValidateConfig(c *Config) error {
	errs := Check(c).Errors()
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Check returns every finding, warnings included.
func Check(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Version < 0 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateTiming(&c.Timing)...)
	errs = append(errs, validateChatter(&c.Chatter, &c.Timing)...)
	errs = append(errs, validateKeys(c.Keys)...)
	errs = append(errs, validateOutput(&c.Output)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	return errs
}

func validateTiming(t *TimingConfig) ValidationErrors {
	var errs ValidationErrors

	if t.TappingTermMS < 1 || t.TappingTermMS > MaxTappingTermMS {
		errs = append(errs, *RangeError("timing.tapping_term_ms", 1, MaxTappingTermMS))
	}
	if t.PollMS < 0 {
		errs = append(errs, ValidationError{
			Field:   "timing.poll_ms",
			Message: "poll interval cannot be negative",
		})
	} else if t.PollMS > 0 && t.TappingTermMS > 0 && t.PollMS >= t.TappingTermMS {
		errs = append(errs, ValidationError{
			Field:   "timing.poll_ms",
			Message: "warning: poll interval is not shorter than the tapping term",
		})
	}

	return errs
}

func validateChatter(ch *ChatterConfig, t *TimingConfig) ValidationErrors {
	var errs ValidationErrors

	if ch.ThresholdMS < 1 || ch.ThresholdMS > MaxTappingTermMS {
		errs = append(errs, *RangeError("chatter.threshold_ms", 1, MaxTappingTermMS))
	} else if ch.ThresholdMS >= t.TappingTermMS && t.TappingTermMS > 0 {
		errs = append(errs, ValidationError{
			Field:   "chatter.threshold_ms",
			Message: "warning: threshold is not shorter than the tapping term; double taps will be reported",
		})
	}
	if ch.DiagMaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "chatter.diag_max_size_mb",
			Message: "max size cannot be negative",
		})
	}
	if ch.Buffer < 1 {
		errs = append(errs, ValidationError{
			Field:   "chatter.buffer",
			Message: "buffer must hold at least one record",
		})
	}

	return errs
}

func validateKeys(keys map[string]string) ValidationErrors {
	var errs ValidationErrors

	seen := make(map[keycode.KeyID]string)
	for name, roleName := range keys {
		field := "keys." + name
		key, err := keycode.Parse(name)
		if err != nil || key == keycode.None {
			errs = append(errs, ValidationError{Field: field, Message: "unknown key"})
			continue
		}
		if prev, ok := seen[key]; ok {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("same key as keys.%s", prev),
			})
			continue
		}
		seen[key] = name
		if _, err := dispatch.ParseRole(roleName); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return errs
	}

	c := Config{Keys: keys}
	if _, err := c.Keymap(); err != nil {
		errs = append(errs, ValidationError{Field: "keys", Message: err.Error()})
	}
	return errs
}

func validateOutput(o *OutputConfig) ValidationErrors {
	switch o.Backend {
	case "uinput", "log":
		return nil
	default:
		return ValidationErrors{{
			Field:   "output.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: uinput, log)", o.Backend),
		}}
	}
}

func validateStorage(s *StorageConfig) ValidationErrors {
	if s.Path == "" {
		return ValidationErrors{{
			Field:   "storage.path",
			Message: "storage path is required",
		}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		return ValidationErrors{{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid address %q: %v", m.ListenAddr, err),
		}}
	}
	return nil
}
