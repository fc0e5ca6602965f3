package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuroshio-lab/species-sync/internal/config"
	"github.com/kuroshio-lab/species-sync/internal/model"
	"github.com/kuroshio-lab/species-sync/internal/syncer"
)

func resetSyncFlags(t *testing.T) {
	t.Helper()
	syncSource = "all"
	syncMode = "incremental"
	syncStartDate = ""
	syncEndDate = ""
	syncGeometry = ""
	syncMaxPages = 0
	syncYears = nil
	syncCellLimit = 0
	syncSkipDedupe = false
	cfg = &config.Config{}
	cfg.Sync.MaxPages = 20
	cfg.Dedupe.Prefer = "OBIS"
}

func TestBuildSyncOptionsDefaults(t *testing.T) {
	resetSyncFlags(t)

	opts, err := buildSyncOptions()
	require.NoError(t, err)
	assert.Equal(t, syncer.ModeIncremental, opts.Mode)
	assert.Equal(t, []model.Source{model.SourceOBIS, model.SourceGBIF}, opts.Sources)
	assert.Equal(t, 20, opts.MaxPages)
	assert.Equal(t, model.SourceOBIS, opts.Dedupe.Prefer)
	assert.InDelta(t, 1000, opts.Dedupe.DistanceMeters, 0.001)
	assert.Equal(t, 24*time.Hour, opts.Dedupe.TimeWindow)
}

func TestBuildSyncOptionsSingleSource(t *testing.T) {
	resetSyncFlags(t)
	syncSource = "gbif"
	syncMode = "full"

	opts, err := buildSyncOptions()
	require.NoError(t, err)
	assert.Equal(t, syncer.ModeFull, opts.Mode)
	assert.Equal(t, []model.Source{model.SourceGBIF}, opts.Sources)
}

func TestBuildSyncOptionsFullModeUncapped(t *testing.T) {
	resetSyncFlags(t)
	syncMode = "full"

	// The configured cap applies to incremental runs only; a full resync
	// pages until exhausted unless capped explicitly.
	opts, err := buildSyncOptions()
	require.NoError(t, err)
	assert.Zero(t, opts.MaxPages)

	syncMaxPages = 5
	opts, err = buildSyncOptions()
	require.NoError(t, err)
	assert.Equal(t, 5, opts.MaxPages)
}

func TestBuildSyncOptionsDateWindow(t *testing.T) {
	resetSyncFlags(t)
	syncStartDate = "2024-01-01"
	syncEndDate = "2024-06-30"

	opts, err := buildSyncOptions()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), opts.StartDate)
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), opts.EndDate)
}

func TestBuildSyncOptionsRejectsBadInput(t *testing.T) {
	resetSyncFlags(t)
	syncSource = "inat"
	_, err := buildSyncOptions()
	assert.ErrorContains(t, err, "unknown source")

	resetSyncFlags(t)
	syncMode = "sideways"
	_, err = buildSyncOptions()
	assert.ErrorContains(t, err, "unknown mode")

	resetSyncFlags(t)
	syncStartDate = "June 1st"
	_, err = buildSyncOptions()
	assert.ErrorContains(t, err, "invalid --start-date")

	resetSyncFlags(t)
	syncStartDate = "2024-06-01"
	syncEndDate = "2024-01-01"
	_, err = buildSyncOptions()
	assert.ErrorContains(t, err, "before --start-date")

	resetSyncFlags(t)
	syncGeometry = "POLYGON(broken"
	_, err = buildSyncOptions()
	assert.Error(t, err)

	resetSyncFlags(t)
	cfg.Dedupe.Prefer = "user"
	_, err = buildSyncOptions()
	assert.ErrorContains(t, err, "must be OBIS or GBIF")
}

func TestBuildSyncOptionsValidGeometry(t *testing.T) {
	resetSyncFlags(t)
	syncGeometry = "POLYGON ((130 30, 150 30, 150 45, 130 45, 130 30))"

	opts, err := buildSyncOptions()
	require.NoError(t, err)
	assert.Equal(t, syncGeometry, opts.Geometry)
}
