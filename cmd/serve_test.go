package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuroshio-lab/species-sync/internal/model"
	"github.com/kuroshio-lab/species-sync/internal/store"
)

func newRouterStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newRouter(newRouterStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatsEndpoint(t *testing.T) {
	st := newRouterStore(t)
	_, err := st.UpsertObservations(context.Background(), []model.CuratedObservation{{
		ID:                  "obs-1",
		OccurrenceID:        "OBIS:1",
		SpeciesName:         "Chelonia mydas",
		Location:            model.Point{Lng: 140, Lat: 35},
		ObservationDatetime: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Sex:                 model.SexUnknown,
		Source:              model.SourceOBIS,
		Validated:           model.ValidationValidated,
	}})
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats store.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.BySource[model.SourceOBIS])
}

func TestSyncsEndpoint(t *testing.T) {
	st := newRouterStore(t)
	ctx := context.Background()
	id, err := st.StartSync(ctx, "OBIS")
	require.NoError(t, err)
	require.NoError(t, st.CompleteSync(ctx, id, store.SyncResult{RecordCount: 5}))

	srv := httptest.NewServer(newRouter(st))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/syncs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var runs []store.SyncEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "complete", runs[0].Status)
}
