package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kuroshio-lab/species-sync/internal/store"
)

var statsSyncLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show curated store totals and recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(ctx)
		if err != nil {
			return err
		}
		runs, err := st.ListSyncRuns(ctx, statsSyncLimit)
		if err != nil {
			return err
		}

		printJSON(cmd, struct {
			*store.Stats
			RecentSyncs []store.SyncEntry `json:"recent_syncs"`
		}{stats, runs})
		return nil
	},
}

// printJSON pretty-prints a result to the command's stdout.
func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func init() {
	statsCmd.Flags().IntVar(&statsSyncLimit, "syncs", 10, "number of recent sync runs to include")
	rootCmd.AddCommand(statsCmd)
}
