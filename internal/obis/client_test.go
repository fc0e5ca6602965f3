package obis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kuroshio-lab/species-sync/internal/fetcher"
)

func testFetcher() *fetcher.Client {
	return fetcher.New(fetcher.Options{
		MaxAttempts: 1,
		RateLimits:  map[string]rate.Limit{},
	})
}

func makePage(start, n int, total int64) []byte {
	recs := make([]map[string]any, 0, n)
	for i := range n {
		recs = append(recs, map[string]any{
			"id":               fmt.Sprintf("rec-%04d", start+i),
			"scientificName":   "Chelonia mydas",
			"decimalLongitude": 140.0,
			"decimalLatitude":  35.0,
			"eventDate":        "2024-06-01T10:00:00Z",
		})
	}
	body, _ := json.Marshal(map[string]any{"total": total, "results": recs})
	return body
}

func TestFetchPagesUntilEmpty(t *testing.T) {
	// 3 pages (50, 50, 12) then a final empty page.
	pages := [][]byte{
		makePage(0, 50, 0),
		makePage(50, 50, 0),
		makePage(100, 12, 0),
		makePage(112, 0, 0),
	}
	// The cursor must advance to the last id of the previous page.
	wantAfter := []string{"", "rec-0049", "rec-0099", "rec-0111"}
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantAfter[call], r.URL.Query().Get("after"))
		_, _ = w.Write(pages[call])
		call++
	}))
	defer srv.Close()

	c := New(testFetcher(), srv.URL, 50)
	var seen int
	prog, err := c.Fetch(context.Background(), SearchOpts{}, func(recs []Record) error {
		seen += len(recs)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 112, seen)
	assert.Equal(t, 112, prog.Records)
	assert.Equal(t, 3, prog.Pages)
}

func TestFetchStopsAtPageCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(makePage(0, 50, 0))
	}))
	defer srv.Close()

	c := New(testFetcher(), srv.URL, 50)
	prog, err := c.Fetch(context.Background(), SearchOpts{MaxPages: 2}, func([]Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, prog.Pages)
	assert.Equal(t, 100, prog.Records)
}

func TestFetchStopsAtReportedTotal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write(makePage(0, 50, 50))
	}))
	defer srv.Close()

	c := New(testFetcher(), srv.URL, 50)
	prog, err := c.Fetch(context.Background(), SearchOpts{}, func([]Record) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 50, prog.Records)
}

func TestFetchEmptyPolygonYieldsZeroRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("geometry"))
		_, _ = w.Write([]byte(`{"total": 0, "results": []}`))
	}))
	defer srv.Close()

	c := New(testFetcher(), srv.URL, 50)
	called := false
	prog, err := c.Fetch(context.Background(), SearchOpts{
		Geometry: "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))",
	}, func([]Record) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Zero(t, prog.Records)
}

func TestFetchPropagatesSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(testFetcher(), srv.URL, 50)
	_, err := c.Fetch(context.Background(), SearchOpts{}, func([]Record) error { return nil })
	require.Error(t, err)
	assert.True(t, eris.Is(err, fetcher.ErrSourceUnavailable))
}

func TestValidateGeometry(t *testing.T) {
	assert.NoError(t, ValidateGeometry("POLYGON ((130 20, 150 20, 150 40, 130 40, 130 20))"))
	assert.Error(t, ValidateGeometry("not a polygon"))
}
