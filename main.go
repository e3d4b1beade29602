package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragbridge/internal/app"
	"ragbridge/internal/config"
	"ragbridge/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "ragbridge",
	Short:         "Mirror DMS documents into a vector index",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the sync workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// setup loads the configuration and installs the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	slog.SetDefault(log)
	return cfg, log, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	deps, err := app.Bootstrap(ctx, cfg, logger, app.BootstrapOptions{Queue: true})
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps, deps.Producer, logger)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}
