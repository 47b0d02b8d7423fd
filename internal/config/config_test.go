package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	data := `{"maxTasksPerHeight": 7, "fsync": "interval"}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxTasksPerHeight != 7 || cfg.Fsync != "interval" {
		t.Fatalf("cfg = %+v", cfg)
	}
	// untouched fields keep defaults
	if cfg.HTTPAddr != Default().HTTPAddr {
		t.Fatalf("httpAddr = %q, want default", cfg.HTTPAddr)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := "maxTasksPerHeight: 3\nlogLevel: debug\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxTasksPerHeight != 3 || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"maxTasksPerHeight": 0}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for zero cap")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv(EnvMaxTasksPerHeight, "11")
	t.Setenv(EnvLogLevel, "warn")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxTasksPerHeight != 11 || cfg.LogLevel != "warn" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
