// Package config loads deferd's configuration from built-in defaults, an
// optional JSON or YAML file, and DEFERD_* environment overrides, in that
// order of precedence (later wins).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	// DataDir is the Pebble database directory.
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// HTTPAddr is the JSON API listen address.
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
	// Fsync is the WAL durability mode: always|interval|never.
	Fsync string `json:"fsync" yaml:"fsync"`
	// FsyncIntervalMs is the group-commit window for Fsync=interval.
	FsyncIntervalMs int `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	// MaxTasksPerHeight caps task dispatches per height run.
	MaxTasksPerHeight int `json:"maxTasksPerHeight" yaml:"maxTasksPerHeight"`
	// PayloadMaxBytes caps a task's encoded params. Zero disables the cap.
	PayloadMaxBytes int `json:"payloadMaxBytes" yaml:"payloadMaxBytes"`
	// LogLevel is debug|info|warn|error.
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	// LogFormat is text|json.
	LogFormat string `json:"logFormat" yaml:"logFormat"`
	// DevTickMs, when positive, advances the height on a timer. Standalone
	// development only; a real deployment advances height from the host
	// ledger's finalization hook.
	DevTickMs int `json:"devTickMs" yaml:"devTickMs"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:           "./data",
		HTTPAddr:          ":8080",
		Fsync:             "always",
		FsyncIntervalMs:   5,
		MaxTasksPerHeight: 64,
		PayloadMaxBytes:   1 << 20,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over
// defaults, then applies environment overrides. Empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: %s: %w", path, err)
			}
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break scheduler invariants.
func (c Config) Validate() error {
	if c.MaxTasksPerHeight < 1 {
		return errors.New("config: maxTasksPerHeight must be >= 1")
	}
	switch c.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("config: invalid fsync mode %q", c.Fsync)
	}
	return nil
}
