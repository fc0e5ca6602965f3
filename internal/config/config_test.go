package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "https://api.obis.org/v3", cfg.OBIS.BaseURL)
	assert.Equal(t, 500, cfg.OBIS.PageSize)
	assert.Equal(t, "https://api.gbif.org/v1", cfg.GBIF.BaseURL)
	assert.Equal(t, 300, cfg.GBIF.PageSize)
	assert.Equal(t, 3, cfg.GBIF.CellWorkers)
	assert.Equal(t, 2000, cfg.GBIF.FirstYear)
	assert.Equal(t, "https://www.marinespecies.org/rest", cfg.WoRMS.BaseURL)
	assert.Equal(t, 4, cfg.WoRMS.Concurrency)
	assert.InDelta(t, 1000.0, cfg.Dedupe.DistanceMeters, 0.001)
	assert.InDelta(t, 24.0, cfg.Dedupe.TimeWindowHours, 0.001)
	assert.Equal(t, "OBIS", cfg.Dedupe.Prefer)
	assert.Equal(t, 30, cfg.Sync.IncrementalWindowDays)
	assert.Equal(t, 20, cfg.Sync.MaxPages)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/obs.db
gbif:
  cell_workers: 2
dedupe:
  distance_meters: 500
  prefer: GBIF
log:
  level: debug
  format: console
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/obs.db", cfg.Store.SQLitePath)
	assert.Equal(t, 2, cfg.GBIF.CellWorkers)
	assert.InDelta(t, 500.0, cfg.Dedupe.DistanceMeters, 0.001)
	assert.Equal(t, "GBIF", cfg.Dedupe.Prefer)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 500, cfg.OBIS.PageSize)
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
