package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbadge/attendd/internal/cloud"
	"github.com/openbadge/attendd/internal/storage/sqlite"
	"github.com/openbadge/attendd/internal/syncengine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload pending scans now",
	Long: `Run one manual sync cycle: probe the service, then upload every
pending batch. Manual sync bypasses the automatic cooldown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := stderrLogger()
		cfg, err := loadConfig(log)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := sqlite.New(ctx, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening scan store: %w", err)
		}
		defer func() { _ = store.Close() }()

		engine := syncengine.New(store, cloud.NewClient(cfg.CloudURL, cfg.CloudKey), syncengine.Config{
			BatchSize:              cfg.BatchSize,
			ConnTimeout:            cfg.AutoSync.ConnectionTimeout,
			UploadTimeout:          cfg.UploadTimeout,
			RetryEnabled:           cfg.Retry.Enabled,
			MaxAttempts:            cfg.Retry.MaxAttempts,
			Backoff:                cfg.Retry.Backoff,
			MaxConsecutiveFailures: cfg.Retry.MaxConsecutiveFailures,
			Cooldown:               cfg.Retry.Cooldown,
		}, log)

		summary := engine.SyncPending(ctx, true, 0)
		if jsonOutput {
			outputJSON(summary)
		} else if summary.Skipped {
			fmt.Printf("sync skipped: %s\n", summary.SkipReason)
		} else {
			fmt.Printf("synced %d, failed %d, %d batches, %d still pending\n",
				summary.Synced, summary.Failed, summary.Batches, summary.RemainingPending)
			if summary.LastError != "" {
				fmt.Printf("last error: %s\n", summary.LastError)
			}
		}
		if summary.AuthFailure {
			return fmt.Errorf("authentication rejected; check the cloud credential")
		}
		return nil
	},
}
