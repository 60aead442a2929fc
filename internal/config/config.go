// Package config handles configuration loading, validation, and management for keydance.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"keydance/internal/chatter"
	"keydance/internal/dance"
	"keydance/internal/dispatch"
	"keydance/internal/keycode"
	"keydance/internal/logging"
	"keydance/internal/tick"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Timing of the tap dances and the composite engine.
	Timing TimingConfig `toml:"timing" json:"timing" yaml:"timing"`

	// Chatter detection settings.
	Chatter ChatterConfig `toml:"chatter" json:"chatter" yaml:"chatter"`

	// Keys overlays the default keymap: key name to role name. A role of
	// "none" removes a default binding.
	Keys map[string]string `toml:"keys" json:"keys" yaml:"keys"`

	// Input device settings.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	// Output backend settings.
	Output OutputConfig `toml:"output" json:"output" yaml:"output"`

	// Storage for the mode byte and chatter history.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics endpoint configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// TimingConfig holds the tapping window.
type TimingConfig struct {
	// TappingTermMS is the window within which consecutive taps and the
	// hold/tap split are decided.
	TappingTermMS int `toml:"tapping_term_ms" json:"tapping_term_ms" yaml:"tapping_term_ms"`

	// PollMS is how often pending holds are resolved without waiting for
	// the next event. Zero disables polling.
	PollMS int `toml:"poll_ms" json:"poll_ms" yaml:"poll_ms"`
}

// ChatterConfig controls the chatter diagnostic.
type ChatterConfig struct {
	Enabled     bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	ThresholdMS int  `toml:"threshold_ms" json:"threshold_ms" yaml:"threshold_ms"`
	// Verbose reports every event once the window holds three stamps.
	Verbose bool `toml:"verbose" json:"verbose" yaml:"verbose"`

	// DiagPath is the diagnostics log file. Empty disables it.
	DiagPath      string `toml:"diag_path" json:"diag_path" yaml:"diag_path"`
	DiagMaxSizeMB int64  `toml:"diag_max_size_mb" json:"diag_max_size_mb" yaml:"diag_max_size_mb"`

	// Buffer is the number of records queued between the event loop and
	// the diagnostic writers.
	Buffer int `toml:"buffer" json:"buffer" yaml:"buffer"`

	// Persist records chatter in the store as well as the diagnostics log.
	Persist bool `toml:"persist" json:"persist" yaml:"persist"`
}

// InputConfig selects the keyboard to read from.
type InputConfig struct {
	// Device is an evdev path or a device name substring. Empty picks the
	// first device that reports keyboard keys.
	Device string `toml:"device" json:"device" yaml:"device"`

	// Grab takes exclusive access to the device.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`

	// Passthrough forwards keys without a role to the output.
	Passthrough bool `toml:"passthrough" json:"passthrough" yaml:"passthrough"`
}

// OutputConfig selects where actions go.
type OutputConfig struct {
	// Backend is "uinput" for a virtual keyboard or "log" to only log.
	Backend string `toml:"backend" json:"backend" yaml:"backend"`
}

// StorageConfig configures the sqlite store.
type StorageConfig struct {
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dataDir := KeydanceDir()
	logDir := logging.DefaultStateDir()
	return &Config{
		Version: Version,
		Timing: TimingConfig{
			TappingTermMS: int(dance.DefaultWindow),
			PollMS:        10,
		},
		Chatter: ChatterConfig{
			Enabled:       true,
			ThresholdMS:   int(chatter.DefaultThreshold),
			DiagPath:      filepath.Join(logDir, "chatter.log"),
			DiagMaxSizeMB: 5,
			Buffer:        64,
			Persist:       true,
		},
		Keys: map[string]string{},
		Input: InputConfig{
			Grab: true,
		},
		Output: OutputConfig{
			Backend: "uinput",
		},
		Storage: StorageConfig{
			Path: filepath.Join(dataDir, "keydance.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(logDir, "keydance.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9464",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// KeydanceDir returns the base data directory.
// KEYDANCE_DATA_DIR overrides the platform default.
func KeydanceDir() string {
	if envDir := os.Getenv("KEYDANCE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	// A file without a version predates versioning.
	cfg.Version = 0

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if cfg.Keys == nil {
		cfg.Keys = map[string]string{}
	}
	return cfg, nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
	}
	if c.Chatter.DiagPath != "" {
		dirs = append(dirs, filepath.Dir(c.Chatter.DiagPath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with KEYDANCE_ and use underscores.
// Values that do not parse are left alone; validation reports the result.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := envInt("KEYDANCE_TAPPING_TERM_MS"); ok {
		c.Timing.TappingTermMS = v
	}
	if v, ok := envInt("KEYDANCE_POLL_MS"); ok {
		c.Timing.PollMS = v
	}

	if v, ok := envBool("KEYDANCE_CHATTER"); ok {
		c.Chatter.Enabled = v
	}
	if v, ok := envInt("KEYDANCE_CHATTER_THRESHOLD_MS"); ok {
		c.Chatter.ThresholdMS = v
	}
	if v, ok := envBool("KEYDANCE_CHATTER_VERBOSE"); ok {
		c.Chatter.Verbose = v
	}

	if v := os.Getenv("KEYDANCE_DEVICE"); v != "" {
		c.Input.Device = v
	}
	if v := os.Getenv("KEYDANCE_OUTPUT"); v != "" {
		c.Output.Backend = v
	}
	if v := os.Getenv("KEYDANCE_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	if v := os.Getenv("KEYDANCE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYDANCE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	if v := os.Getenv("KEYDANCE_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Keys = make(map[string]string, len(c.Keys))
	for k, v := range c.Keys {
		clone.Keys[k] = v
	}
	return &clone
}

// DispatchTiming converts the hot-reloadable settings for the dispatcher.
func (c *Config) DispatchTiming() dispatch.Timing {
	return dispatch.Timing{
		Window:         tick.Duration(c.Timing.TappingTermMS),
		ChatterEnabled: c.Chatter.Enabled,
		Chatter: chatter.Config{
			Threshold: tick.Duration(c.Chatter.ThresholdMS),
			Verbose:   c.Chatter.Verbose,
		},
	}
}

// Keymap returns the default keymap with the Keys section applied.
func (c *Config) Keymap() (dispatch.Keymap, error) {
	km := dispatch.DefaultKeymap()
	for name, roleName := range c.Keys {
		key, err := keycode.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("keys.%s: %w", name, err)
		}
		if key == keycode.None {
			return nil, fmt.Errorf("keys: empty key name")
		}
		role, err := dispatch.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("keys.%s: %w", name, err)
		}
		if role == dispatch.RoleNone {
			delete(km, key)
			continue
		}
		km[key] = role
	}
	if err := km.Validate(); err != nil {
		return nil, err
	}
	return km, nil
}

// LoggingConfig converts the logging section for the logging package.
func (c *Config) LoggingConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = int64(c.Logging.MaxSizeMB)
	lc.MaxBackups = c.Logging.MaxBackups
	lc.MaxAge = c.Logging.MaxAgeDays
	lc.Compress = c.Logging.Compress
	return lc, nil
}
