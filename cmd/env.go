package main

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/kuroshio-lab/species-sync/internal/dedupe"
	"github.com/kuroshio-lab/species-sync/internal/fetcher"
	"github.com/kuroshio-lab/species-sync/internal/gbif"
	"github.com/kuroshio-lab/species-sync/internal/model"
	"github.com/kuroshio-lab/species-sync/internal/obis"
	"github.com/kuroshio-lab/species-sync/internal/store"
	"github.com/kuroshio-lab/species-sync/internal/syncer"
	"github.com/kuroshio-lab/species-sync/internal/worms"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// rateLimits maps each configured provider host to its request ceiling.
func rateLimits() map[string]rate.Limit {
	limits := make(map[string]rate.Limit)
	for _, entry := range []struct {
		baseURL string
		rps     float64
	}{
		{cfg.OBIS.BaseURL, cfg.OBIS.RequestsPerSec},
		{cfg.GBIF.BaseURL, cfg.GBIF.RequestsPerSec},
		{cfg.WoRMS.BaseURL, cfg.WoRMS.RequestsPerSec},
	} {
		if entry.rps <= 0 {
			continue
		}
		u, err := url.Parse(entry.baseURL)
		if err != nil || u.Host == "" {
			continue
		}
		limits[u.Host] = rate.Limit(entry.rps)
	}
	return limits
}

// buildEngine wires the sync engine from configuration. The caller owns the
// returned store.
func buildEngine(ctx context.Context) (*syncer.Engine, store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	httpClient := fetcher.New(fetcher.Options{
		RateLimits: rateLimits(),
	})

	eng := syncer.New(st,
		obis.New(httpClient, cfg.OBIS.BaseURL, cfg.OBIS.PageSize),
		gbif.New(httpClient, cfg.GBIF.BaseURL, cfg.GBIF.PageSize),
		worms.New(httpClient, cfg.WoRMS.BaseURL),
		syncer.Params{
			CellWorkers:           cfg.GBIF.CellWorkers,
			WormsConcurrency:      cfg.WoRMS.Concurrency,
			IncrementalWindowDays: cfg.Sync.IncrementalWindowDays,
			GBIFFirstYear:         cfg.GBIF.FirstYear,
		},
	)
	return eng, st, nil
}

// dedupeOptions resolves the configured matching tolerances.
func dedupeOptions() (dedupe.Options, error) {
	opts := dedupe.DefaultOptions()
	if cfg.Dedupe.DistanceMeters > 0 {
		opts.DistanceMeters = cfg.Dedupe.DistanceMeters
	}
	if cfg.Dedupe.TimeWindowHours > 0 {
		opts.TimeWindow = time.Duration(cfg.Dedupe.TimeWindowHours * float64(time.Hour))
	}
	if cfg.Dedupe.Prefer != "" {
		prefer, err := model.ParseSource(cfg.Dedupe.Prefer)
		if err != nil {
			return opts, eris.Wrap(err, "dedupe.prefer")
		}
		if prefer != model.SourceOBIS && prefer != model.SourceGBIF {
			return opts, eris.Errorf("dedupe.prefer must be OBIS or GBIF, got %q", cfg.Dedupe.Prefer)
		}
		opts.Prefer = prefer
	}
	return opts, nil
}
