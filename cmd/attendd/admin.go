package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbadge/attendd/internal/storage/sqlite"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative station maintenance",
}

var adminResetFailedCmd = &cobra.Command{
	Use:   "reset-failed",
	Short: "Move failed scans back to pending",
	Long: `Reset every failed scan to pending so the next sync retries it.
Use after fixing the condition that failed them (for example a rotated
credential or a service-side rejection).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(stderrLogger())
		if err != nil {
			return err
		}
		store, err := sqlite.New(cmd.Context(), cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening scan store: %w", err)
		}
		defer func() { _ = store.Close() }()

		n, err := store.ResetFailedToPending(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]int64{"reset": n})
		} else {
			fmt.Printf("reset %d failed scans to pending\n", n)
		}
		return nil
	},
}

var adminPurgeYes bool

var adminPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all scans and clear the station identity",
	Long: `Destructive station reset: deletes every scan record and clears the
persisted station identity, so the database can be re-provisioned under a
new station name. Requires --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !adminPurgeYes {
			return fmt.Errorf("refusing to purge without --yes")
		}
		cfg, err := loadConfig(stderrLogger())
		if err != nil {
			return err
		}
		store, err := sqlite.New(cmd.Context(), cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening scan store: %w", err)
		}
		defer func() { _ = store.Close() }()

		if err := store.PurgeAllScans(cmd.Context()); err != nil {
			return err
		}
		if err := store.ClearStation(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("station reset: all scans deleted, identity cleared")
		return nil
	},
}

func init() {
	adminPurgeCmd.Flags().BoolVar(&adminPurgeYes, "yes", false, "confirm the destructive reset")
	adminCmd.AddCommand(adminResetFailedCmd)
	adminCmd.AddCommand(adminPurgeCmd)
}
