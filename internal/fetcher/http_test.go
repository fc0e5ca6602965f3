package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testClient(attempts int) *Client {
	c := New(Options{
		MaxAttempts: attempts,
		Timeout:     5 * time.Second,
		RateLimits:  map[string]rate.Limit{},
	})
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = 5 * time.Millisecond
	return c
}

func TestGetJSONDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500", r.URL.Query().Get("size"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total": 112, "results": [{"id": "a"}]}`))
	}))
	defer srv.Close()

	var out struct {
		Total   int              `json:"total"`
		Results []map[string]any `json:"results"`
	}
	params := map[string][]string{"size": {"500"}}
	err := testClient(3).GetJSON(context.Background(), srv.URL, params, &out)
	require.NoError(t, err)
	assert.Equal(t, 112, out.Total)
	assert.Len(t, out.Results, 1)
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	var out map[string]any
	err := testClient(5).GetJSON(context.Background(), srv.URL, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGetJSONSourceUnavailableAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(3).GetJSON(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSourceUnavailable))
}

func TestGetJSONClientErrorIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := testClient(5).GetJSON(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrSourceUnavailable))
	assert.Equal(t, 1, calls)
}

func TestGetJSONMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	var out map[string]any
	err := testClient(3).GetJSON(context.Background(), srv.URL, nil, &out)
	assert.ErrorContains(t, err, "decode response")
}
