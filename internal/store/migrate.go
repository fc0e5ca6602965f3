package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kuroshio-lab/species-sync/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockKey serializes concurrent migration runs across processes.
const migrationLockKey = 420217

// Migrate runs all pending SQL migrations in lexicographic order. It creates
// the species schema and schema_migrations tracking table if needed, then
// applies any .sql files not yet recorded.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, s.pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, s.pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}

		if _, err := s.pool.Exec(ctx,
			"INSERT INTO species.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}

		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

func ensureMigrationTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS species;
		CREATE TABLE IF NOT EXISTS species.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM species.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
