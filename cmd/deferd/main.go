package main

import (
	"context"
	"fmt"
	"os"

	clientcmd "github.com/rzbill/deferd/internal/cmd/client"
	serverrun "github.com/rzbill/deferd/internal/cmd/server"
	cfgpkg "github.com/rzbill/deferd/internal/config"
	logpkg "github.com/rzbill/deferd/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// Respect DEFERD_LOG_LEVEL for CLI output
	level := os.Getenv(cfgpkg.EnvLogLevel)
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "deferd",
		Short: "deferd scheduler CLI",
		Long:  "deferd schedules deferred delegated tasks over a deterministic ledger. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the deferd node (HTTP API)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			maxTasks, _ := cmd.Flags().GetInt("max-tasks-per-height")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			devTickMs, _ := cmd.Flags().GetInt("dev-tick-ms")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if fsyncMode != "" {
				cfg.Fsync = fsyncMode
			}
			if fsyncIntervalMs > 0 {
				cfg.FsyncIntervalMs = fsyncIntervalMs
			}
			if maxTasks > 0 {
				cfg.MaxTasksPerHeight = maxTasks
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			if devTickMs > 0 {
				cfg.DevTickMs = devTickMs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := serverrun.Run(context.Background(), serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file path (JSON or YAML)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8080)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 0, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().Int("max-tasks-per-height", 0, "Task dispatch cap per height run (default 64)")
	serverStartCmd.Flags().String("log-level", os.Getenv(cfgpkg.EnvLogLevel), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv(cfgpkg.EnvLogFormat), "Log format: text|json (default text)")
	serverStartCmd.Flags().Int("dev-tick-ms", 0, "Advance the height on a timer (development only)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// client command groups
	rootCmd.AddCommand(clientcmd.NewTaskCommand(clientcmd.APIBaseURL))
	rootCmd.AddCommand(clientcmd.NewHeightCommand(clientcmd.APIBaseURL))
	rootCmd.AddCommand(clientcmd.NewEventsCommand(clientcmd.APIBaseURL))
	rootCmd.AddCommand(clientcmd.NewBalanceCommand(clientcmd.APIBaseURL))
	rootCmd.AddCommand(clientcmd.NewTrustFundCommand(clientcmd.APIBaseURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
