package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kuroshio-lab/species-sync/internal/model"
)

var (
	dedupePrefer      string
	dedupeDistance    float64
	dedupeWindowHours float64
	dedupeDryRun      bool
)

var dedupeCmd = &cobra.Command{
	Use:     "deduplicate",
	Aliases: []string{"dedupe"},
	Short:   "Merge cross-provider duplicate observations",
	Long: `Scans provider rows for records of the same sighting reported by both OBIS
and GBIF, merges each group into one record with source BOTH, and deletes the
absorbed rows. Safe to run repeatedly. With --dry-run the plan is logged but
nothing is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := dedupeOptions()
		if err != nil {
			return err
		}
		if dedupeDistance > 0 {
			opts.DistanceMeters = dedupeDistance
		}
		if dedupeWindowHours > 0 {
			opts.TimeWindow = time.Duration(dedupeWindowHours * float64(time.Hour))
		}
		if dedupePrefer != "" {
			prefer, err := model.ParseSource(dedupePrefer)
			if err != nil {
				return err
			}
			if prefer != model.SourceOBIS && prefer != model.SourceGBIF {
				return eris.Errorf("--prefer must be OBIS or GBIF, got %q", dedupePrefer)
			}
			opts.Prefer = prefer
		}

		eng, st, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := eng.Deduplicate(ctx, opts, dedupeDryRun)
		if err != nil {
			return err
		}
		printJSON(cmd, stats)
		return nil
	},
}

func init() {
	dedupeCmd.Flags().StringVar(&dedupePrefer, "prefer", "", "source whose fields win on conflict: OBIS or GBIF (default from config)")
	dedupeCmd.Flags().Float64Var(&dedupeDistance, "distance-meters", 0, "match distance tolerance in meters (default from config)")
	dedupeCmd.Flags().Float64Var(&dedupeWindowHours, "time-window-hours", 0, "match time tolerance in hours (default from config)")
	dedupeCmd.Flags().BoolVar(&dedupeDryRun, "dry-run", false, "log the merge plan without applying it")
	rootCmd.AddCommand(dedupeCmd)
}
