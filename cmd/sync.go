package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kuroshio-lab/species-sync/internal/model"
	"github.com/kuroshio-lab/species-sync/internal/obis"
	"github.com/kuroshio-lab/species-sync/internal/syncer"
)

var (
	syncSource     string
	syncMode       string
	syncStartDate  string
	syncEndDate    string
	syncGeometry   string
	syncMaxPages   int
	syncYears      []int
	syncCellLimit  int
	syncSkipDedupe bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch, enrich, and upsert occurrence records",
	Long: `Runs the occurrence pipeline: fetch records from the selected providers,
normalize and enrich them with WoRMS taxonomy, upsert into the curated store,
and deduplicate across providers.

Provider outages are operational failures, not usage errors: the run logs them
and exits zero. Only invalid flags or configuration exit non-zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts, err := buildSyncOptions()
		if err != nil {
			return err
		}

		eng, st, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := eng.Run(ctx, opts)
		if err != nil {
			zap.L().Error("sync run did not complete cleanly", zap.Error(err))
		}
		printJSON(cmd, stats)
		return nil
	},
}

func buildSyncOptions() (syncer.Options, error) {
	var opts syncer.Options

	mode, err := syncer.ParseMode(syncMode)
	if err != nil {
		return opts, err
	}
	opts.Mode = mode

	switch syncSource {
	case "all":
		opts.Sources = []model.Source{model.SourceOBIS, model.SourceGBIF}
	case "obis":
		opts.Sources = []model.Source{model.SourceOBIS}
	case "gbif":
		opts.Sources = []model.Source{model.SourceGBIF}
	default:
		return opts, eris.Errorf("unknown source %q (want obis, gbif, or all)", syncSource)
	}

	if syncStartDate != "" {
		t, err := time.Parse("2006-01-02", syncStartDate)
		if err != nil {
			return opts, eris.Wrapf(err, "invalid --start-date %q", syncStartDate)
		}
		opts.StartDate = t
	}
	if syncEndDate != "" {
		t, err := time.Parse("2006-01-02", syncEndDate)
		if err != nil {
			return opts, eris.Wrapf(err, "invalid --end-date %q", syncEndDate)
		}
		opts.EndDate = t
	}
	if !opts.StartDate.IsZero() && !opts.EndDate.IsZero() && opts.EndDate.Before(opts.StartDate) {
		return opts, eris.New("--end-date is before --start-date")
	}

	if syncGeometry != "" {
		if err := obis.ValidateGeometry(syncGeometry); err != nil {
			return opts, err
		}
		opts.Geometry = syncGeometry
	}

	// The configured page cap bounds incremental runs only. A full resync
	// just cleared the provider rows and must page until exhausted.
	opts.MaxPages = syncMaxPages
	if opts.MaxPages == 0 && opts.Mode == syncer.ModeIncremental {
		opts.MaxPages = cfg.Sync.MaxPages
	}
	opts.Years = syncYears
	opts.CellLimit = syncCellLimit
	opts.SkipDedupe = syncSkipDedupe

	opts.Dedupe, err = dedupeOptions()
	if err != nil {
		return opts, err
	}
	return opts, nil
}

func init() {
	syncCmd.Flags().StringVar(&syncSource, "source", "all", "provider to sync: obis, gbif, or all")
	syncCmd.Flags().StringVar(&syncMode, "mode", "incremental", "sync mode: incremental or full")
	syncCmd.Flags().StringVar(&syncStartDate, "start-date", "", "event date window start (YYYY-MM-DD)")
	syncCmd.Flags().StringVar(&syncEndDate, "end-date", "", "event date window end (YYYY-MM-DD)")
	syncCmd.Flags().StringVar(&syncGeometry, "geometry", "", "WKT polygon restricting the OBIS fetch")
	syncCmd.Flags().IntVar(&syncMaxPages, "max-pages", 0, "OBIS page cap (default from config)")
	syncCmd.Flags().IntSliceVar(&syncYears, "year", nil, "GBIF year(s) to fetch (default derived from the date window)")
	syncCmd.Flags().IntVar(&syncCellLimit, "limit", 0, "record cap per GBIF ocean cell (0 = unlimited)")
	syncCmd.Flags().BoolVar(&syncSkipDedupe, "skip-dedupe", false, "skip the deduplication stage")
	rootCmd.AddCommand(syncCmd)
}
