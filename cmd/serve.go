package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relai-dev/relai/internal/app"
	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway and admin servers",
	RunE:  runServe,
}

var serveJSONLogs bool

func init() {
	serveCmd.Flags().BoolVar(&serveJSONLogs, "json-logs", false, "emit logs as JSON")
	rootCmd.AddCommand(serveCmd)
}

// runServe loads configuration, wires the application, and blocks until
// SIGINT/SIGTERM.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: logLevel(),
		JSON:  serveJSONLogs,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting relai", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	logger.Info("server ready",
		"gateway", cfg.ListenAddr,
		"admin", cfg.AdminAddr,
	)

	return a.Run(ctx)
}

// logLevel reads RELAI_LOG_LEVEL from the environment. Defaults to info.
func logLevel() slog.Level {
	switch os.Getenv("RELAI_LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
