package syncer

import (
	"time"

	"github.com/kuroshio-lab/species-sync/internal/model"
)

// SourceStats counts what happened to one provider during a run.
type SourceStats struct {
	Pages      int `json:"pages"`
	Fetched    int `json:"fetched"`
	Normalized int `json:"normalized"`
	Skipped    int `json:"skipped"`
	// Duplicates counts records whose occurrence id was already seen this
	// run, such as the same GBIF occurrence returned by overlapping cells.
	Duplicates int `json:"duplicates"`
	// CellsFailed counts (region, year) cells that exhausted their retries.
	// A partial cell failure leaves the source successful.
	CellsFailed int    `json:"cells_failed,omitempty"`
	Upserted    int64  `json:"upserted"`
	Error       string `json:"error,omitempty"`
}

// DedupeStats summarizes one deduplication pass.
type DedupeStats struct {
	Scanned int  `json:"scanned"`
	Groups  int  `json:"groups"`
	Merged  int  `json:"merged"`
	DryRun  bool `json:"dry_run,omitempty"`
}

// RunStats is the full outcome of a sync run, logged at the reporting stage
// and returned to the CLI.
type RunStats struct {
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Canceled   bool      `json:"canceled,omitempty"`

	// Cleared counts provider rows deleted ahead of a full re-sync.
	Cleared int64 `json:"cleared,omitempty"`

	Sources map[model.Source]*SourceStats `json:"sources"`

	SpeciesResolved  int `json:"species_resolved"`
	SpeciesUnmatched int `json:"species_unmatched"`
	Enriched         int `json:"enriched"`

	Dedupe *DedupeStats `json:"dedupe,omitempty"`
}

// Failed reports whether every selected source failed to sync.
func (s *RunStats) Failed() bool {
	if len(s.Sources) == 0 {
		return false
	}
	for _, src := range s.Sources {
		if src.Error == "" {
			return false
		}
	}
	return true
}
