// Package worms resolves scientific names to vernacular and accepted names
// via the World Register of Marine Species REST API.
package worms

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kuroshio-lab/species-sync/internal/fetcher"
)

// ErrNotFound means WoRMS has no record for the name. Not an error for the
// pipeline: the observation is kept with a null common name.
var ErrNotFound = eris.New("worms: no taxon match")

// Resolution is the outcome of a successful name lookup.
type Resolution struct {
	AphiaID      int64
	CommonName   string
	AcceptedName string
}

type cacheEntry struct {
	res Resolution
	err error
}

// Client resolves names with an in-run cache. The same species recurs across
// thousands of records, so misses are cached alongside hits.
type Client struct {
	http    *fetcher.Client
	baseURL string

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a WoRMS client.
func New(http *fetcher.Client, baseURL string) *Client {
	return &Client{
		http:    http,
		baseURL: baseURL,
		cache:   make(map[string]cacheEntry),
	}
}

type aphiaRecord struct {
	AphiaID   int64  `json:"AphiaID"`
	ValidName string `json:"valid_name"`
}

type vernacular struct {
	Vernacular      string `json:"vernacular"`
	Language        string `json:"language"`
	IsPreferredName int    `json:"isPreferredName"`
}

// Resolve looks up a scientific name, returning its vernacular (preferred
// English first) and accepted name. Returns ErrNotFound when WoRMS has no
// match; transport failures surface as fetcher.ErrSourceUnavailable.
func (c *Client) Resolve(ctx context.Context, scientificName string) (Resolution, error) {
	name := strings.TrimSpace(scientificName)
	if name == "" {
		return Resolution{}, ErrNotFound
	}
	key := strings.ToLower(name)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return entry.res, entry.err
	}
	c.mu.Unlock()

	res, err := c.resolve(ctx, name)

	// Cache misses but not transport failures, so a flaky call can be retried
	// later in the run.
	if err == nil || eris.Is(err, ErrNotFound) {
		c.mu.Lock()
		c.cache[key] = cacheEntry{res: res, err: err}
		c.mu.Unlock()
	}
	return res, err
}

func (c *Client) resolve(ctx context.Context, name string) (Resolution, error) {
	var records []aphiaRecord
	endpoint := c.baseURL + "/AphiaRecordsByName/" + url.PathEscape(name)
	if err := c.http.GetJSON(ctx, endpoint, nil, &records); err != nil {
		return Resolution{}, eris.Wrapf(err, "worms: records by name %q", name)
	}
	if len(records) == 0 {
		return Resolution{}, ErrNotFound
	}

	res := Resolution{
		AphiaID:      records[0].AphiaID,
		AcceptedName: records[0].ValidName,
	}

	common, err := c.VernacularByAphiaID(ctx, res.AphiaID)
	if err != nil && !eris.Is(err, ErrNotFound) {
		// Vernacular lookup is best-effort once we have the taxon.
		zap.L().Warn("worms: vernacular lookup failed",
			zap.Int64("aphia_id", res.AphiaID),
			zap.Error(err),
		)
	}
	res.CommonName = common
	return res, nil
}

// VernacularByAphiaID returns the preferred English vernacular for a taxon,
// falling back to any English name. Returns ErrNotFound when none exists.
func (c *Client) VernacularByAphiaID(ctx context.Context, aphiaID int64) (string, error) {
	if aphiaID == 0 {
		return "", ErrNotFound
	}

	var names []vernacular
	endpoint := fmt.Sprintf("%s/AphiaVernacularsByAphiaID/%d", c.baseURL, aphiaID)
	if err := c.http.GetJSON(ctx, endpoint, nil, &names); err != nil {
		return "", eris.Wrapf(err, "worms: vernaculars for %d", aphiaID)
	}

	var firstEnglish string
	for _, v := range names {
		if v.Language != "English" || v.Vernacular == "" {
			continue
		}
		if v.IsPreferredName == 1 {
			return v.Vernacular, nil
		}
		if firstEnglish == "" {
			firstEnglish = v.Vernacular
		}
	}
	if firstEnglish != "" {
		return firstEnglish, nil
	}
	return "", ErrNotFound
}

// CacheSize reports how many names have been resolved this run.
func (c *Client) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
