package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/deferd/internal/config"
	logpkg "github.com/rzbill/deferd/pkg/log"
)

func TestBuildLoggerLevels(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.LogLevel = "debug"
	if got := buildLogger(cfg).GetLevel(); got != logpkg.DebugLevel {
		t.Fatalf("level = %v, want debug", got)
	}

	cfg.LogLevel = "not-a-level"
	if got := buildLogger(cfg).GetLevel(); got != logpkg.InfoLevel {
		t.Fatalf("level = %v, want info fallback", got)
	}
}

// TestRunIntegration verifies Run starts and shuts down cleanly on context
// cancellation. Minimal by design since Run binds a real listener.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = ":0"
	cfg.Fsync = "never"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := Run(ctx, Options{Config: cfg}); err != nil {
		t.Fatalf("run: %v", err)
	}
}
