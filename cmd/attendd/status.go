package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openbadge/attendd/internal/storage/sqlite"
	"github.com/openbadge/attendd/internal/timefmt"
	"github.com/openbadge/attendd/internal/types"
)

// statusOutput is the JSON shape of `attendd status`.
type statusOutput struct {
	Station       string             `json:"station"`
	Counts        types.StatusCounts `json:"counts"`
	TodayCount    int                `json:"today_count"`
	RosterHash    string             `json:"roster_hash,omitempty"`
	SchemaVersion string             `json:"schema_version,omitempty"`
	Recent        []*types.Scan      `json:"recent,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show station state and scan counts",
	Long: `Show the station identity, scan counts per sync status, today's
total, and the most recent scans. Reads the database directly, so it works
alongside a running agent.`,
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

		out := statusOutput{}
		if out.Station, err = store.Station(ctx); err != nil {
			return err
		}
		if out.Counts, err = store.CountByStatus(ctx); err != nil {
			return err
		}
		now := time.Now().UTC()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if out.TodayCount, err = store.CountSince(ctx, midnight); err != nil {
			return err
		}
		out.RosterHash, _ = store.GetMetadata(ctx, "roster_hash")
		out.SchemaVersion, _ = store.GetMetadata(ctx, "schema_version")
		if out.Recent, err = store.RecentScans(ctx, cfg.RecentHistory); err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(out)
			return nil
		}

		station := out.Station
		if station == "" {
			station = "(not set)"
		}
		fmt.Printf("Station:   %s\n", station)
		fmt.Printf("Database:  %s\n", store.Path())
		fmt.Printf("Scans:     %d pending, %d synced, %d failed (%d total)\n",
			out.Counts.Pending, out.Counts.Synced, out.Counts.Failed, out.Counts.Total())
		fmt.Printf("Today:     %d\n", out.TodayCount)
		if out.RosterHash != "" {
			fmt.Printf("Roster:    %s\n", short(out.RosterHash))
		}
		if len(out.Recent) > 0 {
			fmt.Println("Recent:")
			for _, s := range out.Recent {
				fmt.Printf("  %6d  %-20s %s  %s\n",
					s.LocalID, s.BadgeID, timefmt.Format(s.ScannedAt), s.SyncStatus)
			}
		}
		return nil
	},
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
