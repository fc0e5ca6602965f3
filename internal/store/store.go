// Package store persists curated observations and sync run history, backed by
// Postgres/PostGIS or SQLite.
package store

import (
	"context"
	"time"

	"github.com/kuroshio-lab/species-sync/internal/model"
)

// SyncEntry is one row of the sync run history.
type SyncEntry struct {
	ID          int64          `json:"id"`
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RecordCount int64          `json:"record_count"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SyncResult holds the outcome of a sync run, passed to CompleteSync.
type SyncResult struct {
	RecordCount int64          `json:"record_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes the curated table.
type Stats struct {
	Total           int64                  `json:"total"`
	DistinctSpecies int64                  `json:"distinct_species"`
	BySource        map[model.Source]int64 `json:"by_source"`
	ByValidation    map[string]int64       `json:"by_validation"`
}

// Store defines persistence for the occurrence pipeline.
type Store interface {
	// Observations
	UpsertObservations(ctx context.Context, obs []model.CuratedObservation) (int64, error)
	DeleteProviderObservations(ctx context.Context) (int64, error)
	ListProviderObservations(ctx context.Context) ([]model.CuratedObservation, error)
	ApplyMerge(ctx context.Context, merged model.CuratedObservation, absorbedIDs []string) error
	Stats(ctx context.Context) (*Stats, error)

	// Sync history
	StartSync(ctx context.Context, source string) (int64, error)
	CompleteSync(ctx context.Context, syncID int64, result SyncResult) error
	FailSync(ctx context.Context, syncID int64, errMsg string) error
	LastSuccessfulSync(ctx context.Context, source string) (*time.Time, error)
	ListSyncRuns(ctx context.Context, limit int) ([]SyncEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
