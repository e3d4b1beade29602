package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"ragbridge/internal/app"
	"ragbridge/internal/config"
	"ragbridge/internal/worker"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass with orphan cleanup and print the report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		return withOrchestrator(cmd.Context(), cfg, log, func(ctx context.Context, orch *worker.Orchestrator) error {
			report := orch.FullSync(ctx)
			if report == nil {
				return fmt.Errorf("full sync already running")
			}
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			if report.Error != "" {
				return fmt.Errorf("full sync aborted: %s", report.Error)
			}
			return nil
		})
	},
}

var syncDocumentCmd = &cobra.Command{
	Use:   "sync-document <document-id>",
	Short: "Sync a single document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid document id %q", args[0])
		}
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		return withOrchestrator(cmd.Context(), cfg, log, func(ctx context.Context, orch *worker.Orchestrator) error {
			outcome, err := orch.IncrementalSync(ctx, id)
			if err != nil {
				return err
			}
			cmd.Printf("document %d: %s\n", id, outcome)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, syncDocumentCmd)
}

// withOrchestrator bootstraps everything except the queue and hands fn a
// ready orchestrator. Failures are still journaled when the journal is on.
func withOrchestrator(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(context.Context, *worker.Orchestrator) error) error {
	deps, err := app.Bootstrap(ctx, cfg, logger, app.BootstrapOptions{})
	if err != nil {
		return err
	}
	defer deps.Close()

	var recorder worker.FailureRecorder
	if jobs := app.NewJobService(deps, nil, logger); jobs != nil {
		recorder = jobs
	}
	return fn(ctx, app.NewOrchestrator(cfg, deps, recorder, logger))
}
