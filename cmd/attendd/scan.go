package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openbadge/attendd/internal/agent"
)

var scanCmd = &cobra.Command{
	Use:   "scan <badge-or-query>",
	Short: "Record one badge swipe",
	Long: `Record a single swipe. Digits are treated as a badge id; anything
else is matched against the roster and resolves only when exactly one
entry matches. The scan is stored locally and uploaded by the next sync.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := stderrLogger()
		cfg, err := loadConfig(log)
		if err != nil {
			return err
		}
		a, err := agent.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		resp, err := a.SubmitScan(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		if !resp.OK {
			fmt.Printf("rejected: %s\n", resp.Reason)
			return nil
		}
		mark := "unmatched"
		if resp.Matched {
			mark = "matched"
		}
		fmt.Printf("recorded badge %s (%s), today %d, total %d\n",
			resp.BadgeID, mark, resp.TodayCount, resp.TotalCount)
		if resp.IsDuplicate {
			fmt.Println("note: duplicate within the configured window")
		}
		return nil
	},
}
