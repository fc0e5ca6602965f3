package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/kuroshio-lab/species-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It keeps the same
// row shape as Postgres with plain lng/lat columns instead of PostGIS
// geography, for local development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS curated_observations (
	id                   TEXT PRIMARY KEY,
	occurrence_id        TEXT NOT NULL,
	species_name         TEXT NOT NULL,
	common_name          TEXT,
	lng                  REAL NOT NULL,
	lat                  REAL NOT NULL,
	observation_datetime DATETIME NOT NULL,
	location_name        TEXT,
	basis_of_record      TEXT,
	dataset_name         TEXT,
	notes                TEXT,
	depth_min            REAL,
	depth_max            REAL,
	bathymetry           REAL,
	temperature          REAL,
	visibility           REAL,
	sex                  TEXT NOT NULL DEFAULT 'unknown',
	source               TEXT NOT NULL,
	validated            TEXT NOT NULL DEFAULT 'pending',
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (occurrence_id, source)
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	record_count INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     TEXT
);

CREATE INDEX IF NOT EXISTS idx_curated_obs_species ON curated_observations(species_name);
CREATE INDEX IF NOT EXISTS idx_curated_obs_source ON curated_observations(source);
CREATE INDEX IF NOT EXISTS idx_curated_obs_datetime ON curated_observations(observation_datetime);
CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(source, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertObservations upserts observations keyed on (occurrence_id, source)
// inside a single transaction. The same occurrence reported by both providers
// stays as two rows until deduplication merges them into BOTH.
func (s *SQLiteStore) UpsertObservations(ctx context.Context, obs []model.CuratedObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO curated_observations (
			id, occurrence_id, species_name, common_name, lng, lat,
			observation_datetime, location_name, basis_of_record, dataset_name,
			notes, depth_min, depth_max, bathymetry, temperature, visibility,
			sex, source, validated, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(occurrence_id, source) DO UPDATE SET
			species_name = excluded.species_name,
			common_name = excluded.common_name,
			lng = excluded.lng,
			lat = excluded.lat,
			observation_datetime = excluded.observation_datetime,
			location_name = excluded.location_name,
			basis_of_record = excluded.basis_of_record,
			dataset_name = excluded.dataset_name,
			notes = excluded.notes,
			depth_min = excluded.depth_min,
			depth_max = excluded.depth_max,
			bathymetry = excluded.bathymetry,
			temperature = excluded.temperature,
			visibility = excluded.visibility,
			sex = excluded.sex,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var written int64
	for _, o := range obs {
		createdAt := o.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			o.ID, o.OccurrenceID, o.SpeciesName, o.CommonName, o.Location.Lng, o.Location.Lat,
			o.ObservationDatetime, o.LocationName, o.BasisOfRecord, o.DatasetName,
			o.Notes, o.DepthMin, o.DepthMax, o.Bathymetry, o.Temperature, o.Visibility,
			o.Sex, string(o.Source), o.Validated, createdAt, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert observation %s", o.OccurrenceID)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert commit")
	}
	return written, nil
}

func (s *SQLiteStore) DeleteProviderObservations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM curated_observations WHERE source IN (?, ?, ?)`,
		string(model.SourceOBIS), string(model.SourceGBIF), string(model.SourceBoth),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete provider observations")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete provider rows affected")
	}
	return n, nil
}

func (s *SQLiteStore) ListProviderObservations(ctx context.Context) ([]model.CuratedObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurrence_id, species_name, common_name, lng, lat,
		       observation_datetime, location_name, basis_of_record, dataset_name,
		       notes, depth_min, depth_max, bathymetry, temperature, visibility,
		       sex, source, validated, created_at, updated_at
		FROM curated_observations
		WHERE source IN (?, ?, ?)
		ORDER BY created_at, id`,
		string(model.SourceOBIS), string(model.SourceGBIF), string(model.SourceBoth),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list provider observations")
	}
	defer rows.Close()

	var obs []model.CuratedObservation
	for rows.Next() {
		var o model.CuratedObservation
		var source string
		if err := rows.Scan(
			&o.ID, &o.OccurrenceID, &o.SpeciesName, &o.CommonName, &o.Location.Lng, &o.Location.Lat,
			&o.ObservationDatetime, &o.LocationName, &o.BasisOfRecord, &o.DatasetName,
			&o.Notes, &o.DepthMin, &o.DepthMax, &o.Bathymetry, &o.Temperature, &o.Visibility,
			&o.Sex, &source, &o.Validated, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		o.Source = model.Source(source)
		obs = append(obs, o)
	}
	return obs, eris.Wrap(rows.Err(), "sqlite: list provider observations iterate")
}

func (s *SQLiteStore) ApplyMerge(ctx context.Context, merged model.CuratedObservation, absorbedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: merge begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE curated_observations SET
			species_name = ?, common_name = ?, lng = ?, lat = ?,
			observation_datetime = ?, location_name = ?, basis_of_record = ?,
			dataset_name = ?, notes = ?, depth_min = ?, depth_max = ?,
			bathymetry = ?, temperature = ?, visibility = ?,
			sex = ?, source = ?, updated_at = ?
		WHERE id = ?`,
		merged.SpeciesName, merged.CommonName, merged.Location.Lng, merged.Location.Lat,
		merged.ObservationDatetime, merged.LocationName, merged.BasisOfRecord,
		merged.DatasetName, merged.Notes, merged.DepthMin, merged.DepthMax,
		merged.Bathymetry, merged.Temperature, merged.Visibility,
		merged.Sex, string(merged.Source), time.Now().UTC(), merged.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: merge update %s", merged.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: merge rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: merge target not found: %s", merged.ID)
	}

	if len(absorbedIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(absorbedIDs)), ", ")
		args := make([]any, len(absorbedIDs))
		for i, id := range absorbedIDs {
			args[i] = id
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM curated_observations WHERE id IN (`+placeholders+`)`,
			args...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: merge delete absorbed for %s", merged.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: merge commit")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		BySource:     make(map[model.Source]int64),
		ByValidation: make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT species_name) FROM curated_observations`,
	).Scan(&stats.Total, &stats.DistinctSpecies)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats totals")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM curated_observations GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by source")
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		stats.BySource[model.Source(source)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by source iterate")
	}

	vrows, err := s.db.QueryContext(ctx,
		`SELECT validated, COUNT(*) FROM curated_observations GROUP BY validated`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by validation")
	}
	defer vrows.Close()
	for vrows.Next() {
		var state string
		var n int64
		if err := vrows.Scan(&state, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validation count")
		}
		stats.ByValidation[state] = n
	}
	return stats, eris.Wrap(vrows.Err(), "sqlite: stats by validation iterate")
}

func (s *SQLiteStore) StartSync(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (source, status, started_at) VALUES (?, 'running', ?)`,
		source, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: start sync for %s", source)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sync last insert id")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSync(ctx context.Context, syncID int64, result SyncResult) error {
	var metaJSON []byte
	if result.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(result.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal sync metadata")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = 'complete', completed_at = ?, record_count = ?, metadata = ? WHERE id = ?`,
		time.Now().UTC(), result.RecordCount, metaJSON, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync %d", syncID)
	}
	return nil
}

func (s *SQLiteStore) FailSync(ctx context.Context, syncID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), errMsg, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync %d", syncID)
	}
	return nil
}

func (s *SQLiteStore) LastSuccessfulSync(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM sync_log
		 WHERE source = ? AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		source,
	).Scan(&t)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: last successful sync for %s", source)
	}
	return &t, nil
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit int) ([]SyncEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, record_count, error, metadata
		 FROM sync_log ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync runs")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &e.CompletedAt, &e.RecordCount, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list sync runs iterate")
}
