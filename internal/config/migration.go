package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"keydance/internal/fileutil"
	"keydance/internal/keycode"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig migrates a configuration from an older version to the current version.
// It creates a backup of configPath before changing anything.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 0:
		changes, warnings = migrateV0ToV1(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}
	cfg.Version++
	return changes, warnings, nil
}

// migrateV0ToV1 upgrades unversioned files. Key names are normalized to
// their KEY_* form and role names to underscores, so later tooling can
// compare them as plain strings.
func migrateV0ToV1(cfg *Config) (changes []string, warnings []string) {
	keys := make(map[string]string, len(cfg.Keys))
	for name, role := range cfg.Keys {
		newName := strings.ToUpper(strings.TrimSpace(name))
		if !strings.HasPrefix(newName, "KEY_") {
			if _, err := keycode.Parse("KEY_" + newName); err == nil {
				newName = "KEY_" + newName
			}
		}
		newRole := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(role)), "-", "_")
		if newName != name || newRole != role {
			changes = append(changes, fmt.Sprintf("keys: %s = %s -> %s = %s", name, role, newName, newRole))
		}
		if _, dup := keys[newName]; dup {
			warnings = append(warnings, fmt.Sprintf("keys: %s bound twice, keeping %s", newName, newRole))
		}
		keys[newName] = newRole
	}
	cfg.Keys = keys
	changes = append(changes, "set version to 1")
	return changes, warnings
}

// backupConfig creates a backup of the config file.
func backupConfig(configPath string) (string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return "", nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := configPath + ".backup-" + timestamp

	if err := fileutil.WriteFile(backupPath, data, fileutil.PermPrivateFile); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return backupPath, nil
}

// SaveConfig saves the configuration to a file, in the format named by
// its extension. TOML is the default.
func SaveConfig(cfg *Config, path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = encodeToTOML(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	// A watching Loader sees either the old file or the new one.
	if err := fileutil.WriteFile(path, data, fileutil.PermPrivateFile); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func encodeToTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := cfg.WriteTOML(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTOML writes the configuration as a TOML document.
func (c *Config) WriteTOML(w io.Writer) error {
	if _, err := io.WriteString(w, "# keydance configuration\n\n"); err != nil {
		return err
	}
	return toml.NewEncoder(w).Encode(c)
}
