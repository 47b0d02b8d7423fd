package config

import (
	"os"
	"strconv"
)

// Environment overrides, applied last. Unset or malformed values are ignored.
const (
	EnvDataDir           = "DEFERD_DATA_DIR"
	EnvHTTPAddr          = "DEFERD_HTTP"
	EnvFsync             = "DEFERD_FSYNC"
	EnvMaxTasksPerHeight = "DEFERD_MAX_TASKS_PER_HEIGHT"
	EnvLogLevel          = "DEFERD_LOG_LEVEL"
	EnvLogFormat         = "DEFERD_LOG_FORMAT"
)

func applyEnv(cfg Config) Config {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv(EnvFsync); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv(EnvMaxTasksPerHeight); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTasksPerHeight = n
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = v
	}
	return cfg
}
