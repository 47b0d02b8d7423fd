// Package serverrun starts the deferd node: runtime plus HTTP API, with an
// optional development ticker that advances the height on a timer.
package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rzbill/deferd/internal/config"
	"github.com/rzbill/deferd/internal/runtime"
	httpserver "github.com/rzbill/deferd/internal/server/http"
	logpkg "github.com/rzbill/deferd/pkg/log"
)

// Options carries the resolved configuration for one server process.
type Options struct {
	Config cfgpkg.Config
}

func buildLogger(cfg cfgpkg.Config) logpkg.Logger {
	level, err := logpkg.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logpkg.InfoLevel
	}
	var formatter logpkg.Formatter = &logpkg.TextFormatter{}
	if cfg.LogFormat == "json" {
		formatter = &logpkg.JSONFormatter{}
	}
	return logpkg.NewLogger(
		logpkg.WithLevel(level),
		logpkg.WithFormatter(formatter),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
}

// Run starts the node and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	logger := buildLogger(cfg)

	// Redirect stdlib logs (Pebble uses them) to our logger.
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting deferd server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("level", cfg.LogLevel),
		logpkg.Str("format", cfg.LogFormat),
		logpkg.Int("dev_tick_ms", cfg.DevTickMs),
	)

	hsrv := httpserver.New(rt)
	defer hsrv.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			logger.Error("http server error", logpkg.Err(err))
		}
	}()

	if cfg.DevTickMs > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devTick(sctx, rt, time.Duration(cfg.DevTickMs)*time.Millisecond, logger)
		}()
	}

	<-sctx.Done()
	wg.Wait()
	return nil
}

// devTick advances the height on a fixed interval. In production the host
// ledger's finalization hook calls AdvanceHeight instead.
func devTick(ctx context.Context, rt *runtime.Runtime, every time.Duration, logger logpkg.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := rt.AdvanceHeight(ctx); err != nil {
				logger.Error("height advance failed", logpkg.Err(err))
			}
		}
	}
}
