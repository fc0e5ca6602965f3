// Package obis pulls occurrence records from the OBIS v3 API.
package obis

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/kuroshio-lab/species-sync/internal/fetcher"
)

// Record is the raw OBIS occurrence payload. Optional fields are pointers so
// absence survives into normalization as nil, never as a zero value.
type Record struct {
	ID                    string   `json:"id"`
	OccurrenceID          string   `json:"occurrenceID"`
	ScientificName        string   `json:"scientificName"`
	VernacularName        string   `json:"vernacularName"`
	AphiaID               *int64   `json:"aphiaID"`
	DecimalLongitude      *float64 `json:"decimalLongitude"`
	DecimalLatitude       *float64 `json:"decimalLatitude"`
	EventDate             string   `json:"eventDate"`
	DatasetName           string   `json:"datasetName"`
	BasisOfRecord         string   `json:"basisOfRecord"`
	Depth                 *float64 `json:"depth"`
	MinimumDepthInMeters  *float64 `json:"minimumDepthInMeters"`
	MaximumDepthInMeters  *float64 `json:"maximumDepthInMeters"`
	Bathymetry            *float64 `json:"bathymetry"`
	SeaSurfaceTemperature *float64 `json:"sst"`
	Sex                   string   `json:"sex"`
}

// SearchOpts bounds an occurrence search.
type SearchOpts struct {
	// Geometry is an optional WKT polygon; empty means worldwide.
	Geometry string
	// StartDate / EndDate bound the event date window (YYYY-MM-DD, optional).
	StartDate string
	EndDate   string
	// MaxPages caps pagination; 0 means fetch until exhausted.
	MaxPages int
}

// Progress reports how far a fetch got, for operability logging and run stats.
type Progress struct {
	Pages   int
	Records int
}

// Client pages through OBIS occurrence search results.
type Client struct {
	http     *fetcher.Client
	baseURL  string
	pageSize int
}

// New creates an OBIS client.
func New(http *fetcher.Client, baseURL string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Client{http: http, baseURL: baseURL, pageSize: pageSize}
}

type searchResponse struct {
	Total   int64    `json:"total"`
	Results []Record `json:"results"`
}

// Fetch pages through the occurrence search, calling handle with each batch of
// raw records. Paging uses OBIS's `after` cursor (the last record id of the
// previous page) and stops on an empty page, the reported total, or the page
// cap. An empty polygon result is not an error; handle is simply never called.
func (c *Client) Fetch(ctx context.Context, opts SearchOpts, handle func([]Record) error) (Progress, error) {
	log := zap.L().With(zap.String("component", "obis"))

	if opts.Geometry != "" {
		if err := ValidateGeometry(opts.Geometry); err != nil {
			return Progress{}, err
		}
	}

	var prog Progress
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return prog, err
		}
		if opts.MaxPages > 0 && prog.Pages >= opts.MaxPages {
			log.Info("page cap reached", zap.Int("pages", prog.Pages))
			return prog, nil
		}

		params := url.Values{}
		params.Set("size", fmt.Sprint(c.pageSize))
		if opts.Geometry != "" {
			params.Set("geometry", opts.Geometry)
		}
		if opts.StartDate != "" {
			params.Set("startdate", opts.StartDate)
		}
		if opts.EndDate != "" {
			params.Set("enddate", opts.EndDate)
		}
		if after != "" {
			params.Set("after", after)
		}

		var resp searchResponse
		if err := c.http.GetJSON(ctx, c.baseURL+"/occurrence", params, &resp); err != nil {
			return prog, eris.Wrap(err, "obis: fetch occurrence page")
		}

		if len(resp.Results) == 0 {
			log.Info("fetch complete",
				zap.Int("pages", prog.Pages),
				zap.Int("records", prog.Records),
			)
			return prog, nil
		}

		prog.Pages++
		prog.Records += len(resp.Results)
		log.Info("fetched page",
			zap.Int("page", prog.Pages),
			zap.Int("page_records", len(resp.Results)),
			zap.Int("records_seen", prog.Records),
			zap.Int64("total_reported", resp.Total),
		)

		if err := handle(resp.Results); err != nil {
			return prog, err
		}

		after = resp.Results[len(resp.Results)-1].ID

		if resp.Total > 0 && int64(prog.Records) >= resp.Total {
			return prog, nil
		}
	}
}

// ValidateGeometry checks that the given string is parseable WKT.
func ValidateGeometry(geometry string) error {
	if _, err := wkt.Unmarshal(geometry); err != nil {
		return eris.Wrapf(err, "obis: invalid WKT geometry")
	}
	return nil
}
