package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is how long the Loader waits after the last change to the
// config file before reloading it.
const DebounceDelay = 100 * time.Millisecond

// Loader handles configuration loading, watching, and hot-reloading.
type Loader struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(old, new *Config)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
	done     chan struct{}

	// Migration is the result of the last Load that upgraded the file.
	Migration *MigrationResult
}

// NewLoader creates a new configuration loader.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Path returns the file the Loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, migrates and validates the configuration file. A missing
// file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	cfg, result, err := l.read()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.Migration = result
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read() (*Config, *MigrationResult, error) {
	cfg, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, nil, err
	}

	var result *MigrationResult
	if cfg.Version < Version {
		result, err = MigrateConfig(cfg, "")
		if err != nil {
			return nil, nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, result, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch starts watching the configuration file for changes.
// When changes are detected, the configuration is reloaded and
// registered callbacks are invoked from the watcher goroutine.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	defer close(l.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(DebounceDelay, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.sendErr(err)
		}
	}
}

func (l *Loader) sendErr(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// reload replaces the current configuration. An invalid file leaves the
// current configuration in place and reports the error.
func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}
	if err := l.Reload(); err != nil {
		l.sendErr(fmt.Errorf("reload config: %w", err))
	}
}

// Reload forces a reload of the configuration.
func (l *Loader) Reload() error {
	newCfg, _, err := l.read()
	if err != nil {
		return err
	}
	l.mu.Lock()
	oldCfg := l.config
	l.config = newCfg
	callbacks := append([]func(old, new *Config){}, l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(oldCfg, newCfg)
	}
	return nil
}

// OnChange registers a callback to be invoked when the configuration changes.
// The callback receives both old and new configurations.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors returns a channel for receiving errors that occur during watching.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	return err
}

// LoadOrCreate loads the configuration from the specified path,
// creating a default configuration file if it doesn't exist.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		return cfg, true, nil
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// TimingChanged reports whether the hot-reloadable settings differ.
func TimingChanged(old, new *Config) bool {
	if old == nil || new == nil {
		return old != new
	}
	return old.Timing != new.Timing ||
		old.Chatter.Enabled != new.Chatter.Enabled ||
		old.Chatter.ThresholdMS != new.Chatter.ThresholdMS ||
		old.Chatter.Verbose != new.Chatter.Verbose
}

// RestartRequired lists the sections that changed but only take effect on
// restart.
func RestartRequired(old, new *Config) []string {
	if old == nil || new == nil {
		return nil
	}
	var out []string
	if !keysEqual(old.Keys, new.Keys) {
		out = append(out, "keys")
	}
	if old.Input != new.Input {
		out = append(out, "input")
	}
	if old.Output != new.Output {
		out = append(out, "output")
	}
	if old.Storage != new.Storage {
		out = append(out, "storage")
	}
	if old.Logging != new.Logging {
		out = append(out, "logging")
	}
	if old.Metrics != new.Metrics {
		out = append(out, "metrics")
	}
	if old.Chatter.DiagPath != new.Chatter.DiagPath ||
		old.Chatter.DiagMaxSizeMB != new.Chatter.DiagMaxSizeMB ||
		old.Chatter.Buffer != new.Chatter.Buffer ||
		old.Chatter.Persist != new.Chatter.Persist {
		out = append(out, "chatter")
	}
	return out
}

func keysEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
