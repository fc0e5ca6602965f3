package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/kuroshio-lab/species-sync/internal/db"
	"github.com/kuroshio-lab/species-sync/internal/model"
)

// PostgresStore implements Store using pgxpool against a PostGIS database.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// observationColumns lists the insertable columns of species.curated_observations
// in upsert order. The location geography column is generated from lng/lat and
// never written directly.
var observationColumns = []string{
	"id", "occurrence_id", "species_name", "common_name",
	"lng", "lat", "observation_datetime",
	"location_name", "basis_of_record", "dataset_name", "notes",
	"depth_min", "depth_max", "bathymetry", "temperature", "visibility",
	"sex", "source", "validated", "created_at", "updated_at",
}

// observationUpdateColumns are refreshed on conflict. id, created_at, and
// validated are preserved so human review state survives re-syncs. source is
// part of the conflict key: the same occurrence from a second provider is a
// new row, merged into BOTH by deduplication rather than overwritten here.
var observationUpdateColumns = []string{
	"species_name", "common_name", "lng", "lat", "observation_datetime",
	"location_name", "basis_of_record", "dataset_name", "notes",
	"depth_min", "depth_max", "bathymetry", "temperature", "visibility",
	"sex", "updated_at",
}

func observationRow(o model.CuratedObservation, now time.Time) []any {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return []any{
		o.ID, o.OccurrenceID, o.SpeciesName, o.CommonName,
		o.Location.Lng, o.Location.Lat, o.ObservationDatetime,
		o.LocationName, o.BasisOfRecord, o.DatasetName, o.Notes,
		o.DepthMin, o.DepthMax, o.Bathymetry, o.Temperature, o.Visibility,
		o.Sex, string(o.Source), o.Validated, createdAt, now,
	}
}

// UpsertObservations bulk-upserts observations keyed on (occurrence_id, source)
// and returns the number of rows written.
func (s *PostgresStore) UpsertObservations(ctx context.Context, obs []model.CuratedObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, observationRow(o, now))
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "species.curated_observations",
		Columns:      observationColumns,
		ConflictKeys: []string{"occurrence_id", "source"},
		UpdateCols:   observationUpdateColumns,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert observations")
	}
	return n, nil
}

// DeleteProviderObservations removes all provider-managed rows ahead of a full
// re-sync. User-submitted rows are never deleted.
func (s *PostgresStore) DeleteProviderObservations(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM species.curated_observations WHERE source IN ($1, $2, $3)`,
		string(model.SourceOBIS), string(model.SourceGBIF), string(model.SourceBoth),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete provider observations")
	}
	return tag.RowsAffected(), nil
}

const selectObservationColumns = `id, occurrence_id, species_name, common_name,
	lng, lat, observation_datetime,
	location_name, basis_of_record, dataset_name, notes,
	depth_min, depth_max, bathymetry, temperature, visibility,
	sex, source, validated, created_at, updated_at`

// ListProviderObservations returns all provider-managed rows ordered by
// creation time, the order deduplication scans them in.
func (s *PostgresStore) ListProviderObservations(ctx context.Context) ([]model.CuratedObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectObservationColumns+`
		 FROM species.curated_observations
		 WHERE source IN ($1, $2, $3)
		 ORDER BY created_at, id`,
		string(model.SourceOBIS), string(model.SourceGBIF), string(model.SourceBoth),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list provider observations")
	}
	defer rows.Close()

	var obs []model.CuratedObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "postgres: list provider observations iterate")
}

func scanObservation(row pgx.Row) (model.CuratedObservation, error) {
	var o model.CuratedObservation
	var source string
	err := row.Scan(
		&o.ID, &o.OccurrenceID, &o.SpeciesName, &o.CommonName,
		&o.Location.Lng, &o.Location.Lat, &o.ObservationDatetime,
		&o.LocationName, &o.BasisOfRecord, &o.DatasetName, &o.Notes,
		&o.DepthMin, &o.DepthMax, &o.Bathymetry, &o.Temperature, &o.Visibility,
		&o.Sex, &source, &o.Validated, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return model.CuratedObservation{}, eris.Wrap(err, "postgres: scan observation")
	}
	o.Source = model.Source(source)
	return o, nil
}

// ApplyMerge rewrites the surviving row of a duplicate group and deletes the
// absorbed rows in one transaction.
func (s *PostgresStore) ApplyMerge(ctx context.Context, merged model.CuratedObservation, absorbedIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: merge begin tx")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE species.curated_observations SET
			species_name = $1, common_name = $2, lng = $3, lat = $4,
			observation_datetime = $5, location_name = $6, basis_of_record = $7,
			dataset_name = $8, notes = $9, depth_min = $10, depth_max = $11,
			bathymetry = $12, temperature = $13, visibility = $14,
			sex = $15, source = $16, updated_at = now()
		 WHERE id = $17`,
		merged.SpeciesName, merged.CommonName, merged.Location.Lng, merged.Location.Lat,
		merged.ObservationDatetime, merged.LocationName, merged.BasisOfRecord,
		merged.DatasetName, merged.Notes, merged.DepthMin, merged.DepthMax,
		merged.Bathymetry, merged.Temperature, merged.Visibility,
		merged.Sex, string(merged.Source), merged.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: merge update %s", merged.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: merge target not found: %s", merged.ID)
	}

	if len(absorbedIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM species.curated_observations WHERE id = ANY($1)`,
			absorbedIDs,
		); err != nil {
			return eris.Wrapf(err, "postgres: merge delete absorbed for %s", merged.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: merge commit")
}

// Stats summarizes the curated table by source and validation state.
func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		BySource:     make(map[model.Source]int64),
		ByValidation: make(map[string]int64),
	}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT species_name) FROM species.curated_observations`,
	).Scan(&stats.Total, &stats.DistinctSpecies)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats totals")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(*) FROM species.curated_observations GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats by source")
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		stats.BySource[model.Source(source)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats by source iterate")
	}

	vrows, err := s.pool.Query(ctx,
		`SELECT validated, COUNT(*) FROM species.curated_observations GROUP BY validated`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats by validation")
	}
	defer vrows.Close()
	for vrows.Next() {
		var state string
		var n int64
		if err := vrows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation count")
		}
		stats.ByValidation[state] = n
	}
	return stats, eris.Wrap(vrows.Err(), "postgres: stats by validation iterate")
}

// StartSync records the beginning of a sync run and returns its id.
func (s *PostgresStore) StartSync(ctx context.Context, source string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO species.sync_log (source, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		source,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: start sync for %s", source)
	}
	return id, nil
}

// CompleteSync marks a sync run as successfully completed.
func (s *PostgresStore) CompleteSync(ctx context.Context, syncID int64, result SyncResult) error {
	var metaJSON []byte
	if result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal sync metadata")
		}
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE species.sync_log
		 SET status = 'complete', completed_at = now(), record_count = $1, metadata = $2
		 WHERE id = $3`,
		result.RecordCount, metaJSON, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync %d", syncID)
	}
	return nil
}

// FailSync marks a sync run as failed with an error message.
func (s *PostgresStore) FailSync(ctx context.Context, syncID int64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE species.sync_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync %d", syncID)
	}
	return nil
}

// LastSuccessfulSync returns the started_at time of the most recent completed
// run for a source, or nil if the source has never synced successfully.
func (s *PostgresStore) LastSuccessfulSync(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM species.sync_log
		 WHERE source = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		source,
	).Scan(&t)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last successful sync for %s", source)
	}
	return &t, nil
}

// ListSyncRuns returns sync history ordered by most recent first.
func (s *PostgresStore) ListSyncRuns(ctx context.Context, limit int) ([]SyncEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, record_count, error, metadata
		 FROM species.sync_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync runs")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &e.CompletedAt, &e.RecordCount, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list sync runs iterate")
}
