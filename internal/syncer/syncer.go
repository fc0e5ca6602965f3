// Package syncer orchestrates the occurrence pipeline: clear (full mode),
// fetch from OBIS and GBIF, enrich with WoRMS taxonomy, upsert into the
// curated store, deduplicate, and report.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kuroshio-lab/species-sync/internal/dedupe"
	"github.com/kuroshio-lab/species-sync/internal/gbif"
	"github.com/kuroshio-lab/species-sync/internal/model"
	"github.com/kuroshio-lab/species-sync/internal/normalize"
	"github.com/kuroshio-lab/species-sync/internal/obis"
	"github.com/kuroshio-lab/species-sync/internal/store"
	"github.com/kuroshio-lab/species-sync/internal/worms"
)

// Mode selects how much history a sync run covers.
type Mode string

const (
	// ModeIncremental fetches records since the last successful run.
	ModeIncremental Mode = "incremental"
	// ModeFull clears provider rows and re-fetches everything.
	ModeFull Mode = "full"
)

// ParseMode validates a mode string from CLI flags.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeIncremental, ModeFull:
		return Mode(s), nil
	default:
		return "", eris.Errorf("syncer: unknown mode %q", s)
	}
}

// State names the pipeline stage currently running.
type State string

const (
	StateIdle          State = "idle"
	StateClearing      State = "clearing_prior_data"
	StateFetchingOBIS  State = "fetching_obis"
	StateFetchingGBIF  State = "fetching_gbif"
	StateEnriching     State = "enriching"
	StateDeduplicating State = "deduplicating"
	StateReporting     State = "reporting"
)

// Options bound a single sync run.
type Options struct {
	Mode    Mode
	Sources []model.Source

	// StartDate / EndDate bound the event date window. A zero StartDate in
	// incremental mode derives from the last successful run.
	StartDate time.Time
	EndDate   time.Time

	// Geometry is an optional WKT polygon restricting the OBIS fetch.
	Geometry string
	// MaxPages caps OBIS pagination; 0 uses the configured default.
	MaxPages int

	// Years restricts GBIF cells; empty derives from the date window.
	Years []int
	// CellLimit caps records fetched per GBIF cell; 0 means unlimited.
	CellLimit int

	// SkipDedupe leaves duplicates in place, for a later explicit pass.
	SkipDedupe bool
	Dedupe     dedupe.Options
}

// Params tune the engine independently of a single run.
type Params struct {
	CellWorkers           int
	WormsConcurrency      int
	IncrementalWindowDays int
	// GBIFFirstYear is where a full historical resync starts walking years
	// when no explicit years or window are given.
	GBIFFirstYear int
}

func (p Params) withDefaults() Params {
	if p.CellWorkers <= 0 {
		p.CellWorkers = 3
	}
	if p.WormsConcurrency <= 0 {
		p.WormsConcurrency = 4
	}
	if p.IncrementalWindowDays <= 0 {
		p.IncrementalWindowDays = 30
	}
	if p.GBIFFirstYear <= 0 {
		p.GBIFFirstYear = 2000
	}
	return p
}

// Engine runs the sync pipeline against one store.
type Engine struct {
	store  store.Store
	obis   *obis.Client
	gbif   *gbif.Client
	worms  *worms.Client
	params Params

	mu    sync.Mutex
	state State
}

// New creates a sync engine.
func New(st store.Store, obisClient *obis.Client, gbifClient *gbif.Client, wormsClient *worms.Client, params Params) *Engine {
	return &Engine{
		store:  st,
		obis:   obisClient,
		gbif:   gbifClient,
		worms:  wormsClient,
		params: params.withDefaults(),
		state:  StateIdle,
	}
}

// State returns the stage the engine is currently in.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()
	zap.L().Info("pipeline state",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// Run executes one sync. Per-source failures are isolated: a dead OBIS does
// not stop the GBIF fetch, and the run still reaches the reporting stage.
// Cancellation also flows through to reporting so partial counts are logged.
func (e *Engine) Run(ctx context.Context, opts Options) (*RunStats, error) {
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	if len(opts.Sources) == 0 {
		opts.Sources = []model.Source{model.SourceOBIS, model.SourceGBIF}
	}

	stats := &RunStats{
		Mode:      opts.Mode,
		StartedAt: time.Now().UTC(),
		Sources:   make(map[model.Source]*SourceStats),
	}
	for _, src := range opts.Sources {
		stats.Sources[src] = &SourceStats{}
	}

	buffers := make(map[model.Source][]model.CuratedObservation)
	syncIDs := make(map[model.Source]int64)
	aphiaIDs := make(map[string]int64)

	if opts.Mode == ModeFull {
		e.transition(StateClearing)
		n, err := e.store.DeleteProviderObservations(ctx)
		if err != nil {
			e.report(stats)
			return stats, eris.Wrap(err, "syncer: clear prior data")
		}
		stats.Cleared = n
	}

	if selected(opts.Sources, model.SourceOBIS) && !stats.Canceled {
		e.transition(StateFetchingOBIS)
		e.fetchOBIS(ctx, opts, stats, buffers, syncIDs, aphiaIDs)
		if ctx.Err() != nil {
			stats.Canceled = true
		}
	}

	if selected(opts.Sources, model.SourceGBIF) && !stats.Canceled {
		e.transition(StateFetchingGBIF)
		e.fetchGBIF(ctx, opts, stats, buffers, syncIDs)
		if ctx.Err() != nil {
			stats.Canceled = true
		}
	}

	if !stats.Canceled {
		e.transition(StateEnriching)
		e.enrichAndUpsert(ctx, stats, buffers, syncIDs, aphiaIDs)
		if ctx.Err() != nil {
			stats.Canceled = true
		}
	}

	if !stats.Canceled && !opts.SkipDedupe {
		e.transition(StateDeduplicating)
		ds, err := e.Deduplicate(ctx, opts.Dedupe, false)
		if err != nil {
			zap.L().Error("deduplication failed", zap.Error(err))
		}
		stats.Dedupe = ds
		if ctx.Err() != nil {
			stats.Canceled = true
		}
	}

	if stats.Canceled {
		e.failOpenSyncs(syncIDs, "canceled")
	}

	e.report(stats)

	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if stats.Failed() {
		return stats, eris.New("syncer: all selected sources failed")
	}
	return stats, nil
}

func selected(sources []model.Source, want model.Source) bool {
	for _, s := range sources {
		if s == want {
			return true
		}
	}
	return false
}

// window resolves the effective date bounds for a source. Incremental runs
// without an explicit start pick up from the last successful sync, falling
// back to the configured window for a first run. Full runs are unbounded
// unless dates were given.
func (e *Engine) window(ctx context.Context, opts Options, source model.Source) (time.Time, time.Time) {
	start := opts.StartDate
	if start.IsZero() && opts.Mode == ModeIncremental {
		last, err := e.store.LastSuccessfulSync(ctx, string(source))
		if err != nil {
			zap.L().Warn("last sync lookup failed, using default window",
				zap.String("source", string(source)), zap.Error(err))
		}
		if last != nil {
			start = *last
		} else {
			start = time.Now().UTC().AddDate(0, 0, -e.params.IncrementalWindowDays)
		}
	}
	return start, opts.EndDate
}

func (e *Engine) fetchOBIS(ctx context.Context, opts Options, stats *RunStats, buffers map[model.Source][]model.CuratedObservation, syncIDs map[model.Source]int64, aphiaIDs map[string]int64) {
	src := stats.Sources[model.SourceOBIS]

	syncID, err := e.store.StartSync(ctx, string(model.SourceOBIS))
	if err != nil {
		src.Error = err.Error()
		zap.L().Error("obis sync could not start", zap.Error(err))
		return
	}
	syncIDs[model.SourceOBIS] = syncID

	start, end := e.window(ctx, opts, model.SourceOBIS)
	search := obis.SearchOpts{
		Geometry: opts.Geometry,
		MaxPages: opts.MaxPages,
	}
	if !start.IsZero() {
		search.StartDate = start.Format("2006-01-02")
	}
	if !end.IsZero() {
		search.EndDate = end.Format("2006-01-02")
	}

	prog, err := e.obis.Fetch(ctx, search, func(recs []obis.Record) error {
		for _, rec := range recs {
			obs, err := normalize.FromOBIS(rec)
			if err != nil {
				src.Skipped++
				zap.L().Debug("skipping obis record", zap.Error(err))
				continue
			}
			buffers[model.SourceOBIS] = append(buffers[model.SourceOBIS], obs)
			src.Normalized++
			if rec.AphiaID != nil && *rec.AphiaID != 0 {
				aphiaIDs[normalize.SpeciesKey(obs.SpeciesName)] = *rec.AphiaID
			}
		}
		return nil
	})
	src.Pages = prog.Pages
	src.Fetched = prog.Records
	if err != nil && ctx.Err() == nil {
		src.Error = err.Error()
		zap.L().Error("obis fetch failed",
			zap.Int("records_before_failure", prog.Records), zap.Error(err))
		e.failSync(syncIDs, model.SourceOBIS, err.Error())
	}
}

func (e *Engine) fetchGBIF(ctx context.Context, opts Options, stats *RunStats, buffers map[model.Source][]model.CuratedObservation, syncIDs map[model.Source]int64) {
	src := stats.Sources[model.SourceGBIF]

	syncID, err := e.store.StartSync(ctx, string(model.SourceGBIF))
	if err != nil {
		src.Error = err.Error()
		zap.L().Error("gbif sync could not start", zap.Error(err))
		return
	}
	syncIDs[model.SourceGBIF] = syncID

	years := opts.Years
	if len(years) == 0 {
		start, end := e.window(ctx, opts, model.SourceGBIF)
		years = e.gbifYearPlan(opts.Mode, start, end)
		zap.L().Info("gbif year plan",
			zap.String("mode", string(opts.Mode)),
			zap.Ints("years", years),
		)
	}
	cells := gbif.BuildCells(gbif.OceanRegions(), years)

	// Region polygons overlap at their seams, so the same occurrence can come
	// back from more than one cell.
	seen := make(map[string]struct{})

	// Cells fail independently: a dead cell is counted and the rest of the
	// year still syncs. The source as a whole fails only when no cell works.
	var mu sync.Mutex
	var lastCellErr error

	g := new(errgroup.Group)
	g.SetLimit(e.params.CellWorkers)

	for _, cell := range cells {
		g.Go(func() error {
			prog, err := e.gbif.FetchCell(ctx, cell, gbif.CellOpts{MaxRecords: opts.CellLimit}, func(recs []gbif.Record) error {
				mu.Lock()
				defer mu.Unlock()
				for _, rec := range recs {
					obs, err := normalize.FromGBIF(rec)
					if err != nil {
						src.Skipped++
						zap.L().Debug("skipping gbif record", zap.Error(err))
						continue
					}
					src.Normalized++
					if _, dup := seen[obs.OccurrenceID]; dup {
						src.Duplicates++
						continue
					}
					seen[obs.OccurrenceID] = struct{}{}
					buffers[model.SourceGBIF] = append(buffers[model.SourceGBIF], obs)
				}
				return nil
			})
			mu.Lock()
			src.Pages += prog.Pages
			src.Fetched += prog.Records
			if err != nil && ctx.Err() == nil {
				src.CellsFailed++
				lastCellErr = err
				zap.L().Error("gbif cell failed",
					zap.String("region", cell.Region.Name),
					zap.Int("year", cell.Year),
					zap.Error(err),
				)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return
	}
	if src.CellsFailed == len(cells) && len(cells) > 0 {
		src.Error = eris.Wrapf(lastCellErr, "syncer: all %d gbif cells failed", len(cells)).Error()
		e.failSync(syncIDs, model.SourceGBIF, src.Error)
	} else if src.CellsFailed > 0 {
		zap.L().Warn("gbif sync is partial",
			zap.Int("cells_failed", src.CellsFailed),
			zap.Int("cells", len(cells)),
		)
	}
}

// gbifYearPlan lists the calendar years a run fetches. A full resync with no
// explicit window walks every year from the configured first year to now; an
// incremental run follows the date window.
func (e *Engine) gbifYearPlan(mode Mode, start, end time.Time) []int {
	if mode == ModeFull && start.IsZero() {
		start = time.Date(e.params.GBIFFirstYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return yearRange(start, end)
}

// yearRange lists the calendar years a date window spans. An open window
// collapses to the current year.
func yearRange(start, end time.Time) []int {
	now := time.Now().UTC()
	if start.IsZero() {
		start = now
	}
	if end.IsZero() {
		end = now
	}
	if end.Before(start) {
		start, end = end, start
	}
	var years []int
	for y := start.Year(); y <= end.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// enrichAndUpsert resolves common names for every distinct species in the
// fetched batches, then writes each source's batch and closes its sync log
// entry.
func (e *Engine) enrichAndUpsert(ctx context.Context, stats *RunStats, buffers map[model.Source][]model.CuratedObservation, syncIDs map[model.Source]int64, aphiaIDs map[string]int64) {
	common := e.resolveCommonNames(ctx, stats, buffers, aphiaIDs)

	for _, source := range []model.Source{model.SourceOBIS, model.SourceGBIF} {
		src := stats.Sources[source]
		if src == nil || src.Error != "" {
			continue
		}
		batch := buffers[source]

		for i := range batch {
			if batch[i].CommonName != nil {
				continue
			}
			if name, ok := common[normalize.SpeciesKey(batch[i].SpeciesName)]; ok {
				batch[i].CommonName = name
				stats.Enriched++
			}
		}

		n, err := e.store.UpsertObservations(ctx, batch)
		if err != nil {
			src.Error = err.Error()
			zap.L().Error("upsert failed", zap.String("source", string(source)), zap.Error(err))
			e.failSync(syncIDs, source, err.Error())
			continue
		}
		src.Upserted = n

		if id, ok := syncIDs[source]; ok {
			err := e.store.CompleteSync(ctx, id, store.SyncResult{
				RecordCount: n,
				Metadata: map[string]any{
					"pages":      src.Pages,
					"fetched":    src.Fetched,
					"skipped":    src.Skipped,
					"duplicates": src.Duplicates,
				},
			})
			if err != nil {
				zap.L().Warn("could not close sync log entry",
					zap.String("source", string(source)), zap.Error(err))
			}
			delete(syncIDs, source)
		}
	}
}

// resolveCommonNames runs the WoRMS lookup pool over every distinct species
// that still lacks a common name.
func (e *Engine) resolveCommonNames(ctx context.Context, stats *RunStats, buffers map[model.Source][]model.CuratedObservation, aphiaIDs map[string]int64) map[string]*string {
	distinct := make(map[string]string)
	for _, batch := range buffers {
		for _, obs := range batch {
			if obs.CommonName != nil {
				continue
			}
			distinct[normalize.SpeciesKey(obs.SpeciesName)] = obs.SpeciesName
		}
	}
	if len(distinct) == 0 {
		return nil
	}

	keys := make([]string, 0, len(distinct))
	for k := range distinct {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mu sync.Mutex
	common := make(map[string]*string, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.params.WormsConcurrency)
	for _, key := range keys {
		name := distinct[key]
		g.Go(func() error {
			res, err := e.resolveSpecies(gctx, name, aphiaIDs[key])
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.CommonName != "":
				common[key] = normalize.TitleCase(res.CommonName)
				stats.SpeciesResolved++
			case err == nil || eris.Is(err, worms.ErrNotFound):
				stats.SpeciesUnmatched++
			default:
				// Transport failure: leave the name unresolved rather than
				// failing the whole run.
				stats.SpeciesUnmatched++
				zap.L().Warn("worms lookup failed", zap.String("species", name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("taxonomy enrichment complete",
		zap.Int("species", len(keys)),
		zap.Int("resolved", stats.SpeciesResolved),
		zap.Int("unmatched", stats.SpeciesUnmatched),
	)
	return common
}

// resolveSpecies prefers a provider-supplied AphiaID, skipping the name
// search when the raw record already identified the taxon.
func (e *Engine) resolveSpecies(ctx context.Context, name string, aphiaID int64) (worms.Resolution, error) {
	if aphiaID != 0 {
		common, err := e.worms.VernacularByAphiaID(ctx, aphiaID)
		if err == nil {
			return worms.Resolution{AphiaID: aphiaID, CommonName: common}, nil
		}
		if eris.Is(err, worms.ErrNotFound) {
			// The taxon exists but has no English vernacular; a name search
			// would land on the same record.
			return worms.Resolution{AphiaID: aphiaID}, nil
		}
		zap.L().Warn("worms direct lookup failed, falling back to name search",
			zap.Int64("aphia_id", aphiaID), zap.Error(err))
	}
	return e.worms.Resolve(ctx, name)
}

// Deduplicate scans provider rows, plans merges, and applies them unless
// dryRun is set. Safe to run repeatedly: a deduplicated table produces an
// empty plan.
func (e *Engine) Deduplicate(ctx context.Context, opts dedupe.Options, dryRun bool) (*DedupeStats, error) {
	rows, err := e.store.ListProviderObservations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "syncer: list for dedupe")
	}

	plan := dedupe.BuildPlan(rows, opts)
	ds := &DedupeStats{
		Scanned: plan.Scanned,
		Groups:  len(plan.Groups),
		DryRun:  dryRun,
	}

	for _, group := range plan.Groups {
		if dryRun {
			zap.L().Info("would merge duplicates",
				zap.String("survivor", group.Merged.OccurrenceID),
				zap.String("species", group.Merged.SpeciesName),
				zap.Strings("absorbed", group.Absorbed),
			)
			ds.Merged += len(group.Absorbed)
			continue
		}
		if err := ctx.Err(); err != nil {
			return ds, err
		}
		if err := e.store.ApplyMerge(ctx, group.Merged, group.Absorbed); err != nil {
			return ds, eris.Wrapf(err, "syncer: apply merge for %s", group.Merged.OccurrenceID)
		}
		ds.Merged += len(group.Absorbed)
	}

	zap.L().Info("deduplication complete",
		zap.Int("scanned", ds.Scanned),
		zap.Int("groups", ds.Groups),
		zap.Int("merged", ds.Merged),
		zap.Bool("dry_run", dryRun),
	)
	return ds, nil
}

// failSync closes a source's open sync log entry as failed.
func (e *Engine) failSync(syncIDs map[model.Source]int64, source model.Source, msg string) {
	id, ok := syncIDs[source]
	if !ok {
		return
	}
	// Finalization must survive run cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.FailSync(ctx, id, msg); err != nil {
		zap.L().Warn("could not mark sync failed",
			zap.String("source", string(source)), zap.Error(err))
	}
	delete(syncIDs, source)
}

func (e *Engine) failOpenSyncs(syncIDs map[model.Source]int64, msg string) {
	for source := range syncIDs {
		e.failSync(syncIDs, source, msg)
	}
}

// report logs the run summary and returns the engine to idle. It always runs,
// including after cancellation and total source failure.
func (e *Engine) report(stats *RunStats) {
	e.transition(StateReporting)
	stats.FinishedAt = time.Now().UTC()

	fields := []zap.Field{
		zap.String("mode", string(stats.Mode)),
		zap.Duration("elapsed", stats.FinishedAt.Sub(stats.StartedAt)),
		zap.Bool("canceled", stats.Canceled),
		zap.Int64("cleared", stats.Cleared),
		zap.Int("species_resolved", stats.SpeciesResolved),
		zap.Int("species_unmatched", stats.SpeciesUnmatched),
		zap.Int("enriched", stats.Enriched),
	}
	for source, src := range stats.Sources {
		prefix := string(source)
		fields = append(fields,
			zap.Int(fmt.Sprintf("%s_fetched", prefix), src.Fetched),
			zap.Int(fmt.Sprintf("%s_skipped", prefix), src.Skipped),
			zap.Int(fmt.Sprintf("%s_duplicates", prefix), src.Duplicates),
			zap.Int64(fmt.Sprintf("%s_upserted", prefix), src.Upserted),
		)
		if src.Error != "" {
			fields = append(fields, zap.String(fmt.Sprintf("%s_error", prefix), src.Error))
		}
	}
	if stats.Dedupe != nil {
		fields = append(fields,
			zap.Int("dedupe_groups", stats.Dedupe.Groups),
			zap.Int("dedupe_merged", stats.Dedupe.Merged),
		)
	}

	zap.L().Info("sync run finished", fields...)
	e.transition(StateIdle)
}
