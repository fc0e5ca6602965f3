// Package gbif pulls occurrence records from the GBIF occurrence API,
// partitioned into (ocean region, year) cells.
package gbif

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kuroshio-lab/species-sync/internal/fetcher"
)

// Record is the raw GBIF occurrence payload.
type Record struct {
	Key                  int64    `json:"key"`
	OccurrenceID         string   `json:"occurrenceID"`
	ScientificName       string   `json:"scientificName"`
	VernacularName       string   `json:"vernacularName"`
	DecimalLongitude     *float64 `json:"decimalLongitude"`
	DecimalLatitude      *float64 `json:"decimalLatitude"`
	EventDate            string   `json:"eventDate"`
	DatasetName          string   `json:"datasetName"`
	BasisOfRecord        string   `json:"basisOfRecord"`
	Depth                *float64 `json:"depth"`
	MinimumDepthInMeters *float64 `json:"minimumDepthInMeters"`
	MaximumDepthInMeters *float64 `json:"maximumDepthInMeters"`
	WaterTemperature     *float64 `json:"waterTemperature"`
	WaterBody            string   `json:"waterBody"`
	Sex                  string   `json:"sex"`
}

// CellOpts bounds the fetch of a single (region, year) cell.
type CellOpts struct {
	// MaxRecords caps records fetched from this cell; 0 means until exhausted.
	MaxRecords int
}

// Progress reports per-cell fetch counts.
type Progress struct {
	Pages   int
	Records int
}

// Client fetches GBIF occurrence search pages.
type Client struct {
	http     *fetcher.Client
	baseURL  string
	pageSize int
}

// New creates a GBIF client.
func New(http *fetcher.Client, baseURL string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 300
	}
	return &Client{http: http, baseURL: baseURL, pageSize: pageSize}
}

type searchResponse struct {
	Offset       int      `json:"offset"`
	Limit        int      `json:"limit"`
	EndOfRecords bool     `json:"endOfRecords"`
	Count        int64    `json:"count"`
	Results      []Record `json:"results"`
}

// FetchCell pages through one (region, year) cell with offset pagination,
// calling handle for each batch. Only records with usable coordinates and no
// flagged geospatial issues are requested. Each cell is independent: an error
// here fails this cell only, and the caller decides whether to continue.
func (c *Client) FetchCell(ctx context.Context, cell Cell, opts CellOpts, handle func([]Record) error) (Progress, error) {
	log := zap.L().With(
		zap.String("component", "gbif"),
		zap.String("region", cell.Region.Name),
		zap.Int("year", cell.Year),
	)

	var prog Progress
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return prog, err
		}

		size := c.pageSize
		if opts.MaxRecords > 0 && opts.MaxRecords-prog.Records < size {
			size = opts.MaxRecords - prog.Records
		}
		if size <= 0 {
			log.Info("record cap reached", zap.Int("records", prog.Records))
			return prog, nil
		}

		params := url.Values{}
		params.Set("geometry", cell.Region.WKT)
		params.Set("year", fmt.Sprint(cell.Year))
		params.Set("hasCoordinate", "true")
		params.Set("hasGeospatialIssue", "false")
		params.Set("limit", fmt.Sprint(size))
		params.Set("offset", fmt.Sprint(offset))

		var resp searchResponse
		if err := c.http.GetJSON(ctx, c.baseURL+"/occurrence/search", params, &resp); err != nil {
			return prog, eris.Wrapf(err, "gbif: fetch cell %s/%d offset %d", cell.Region.Name, cell.Year, offset)
		}

		if len(resp.Results) == 0 {
			log.Info("cell complete", zap.Int("pages", prog.Pages), zap.Int("records", prog.Records))
			return prog, nil
		}

		prog.Pages++
		prog.Records += len(resp.Results)
		log.Info("fetched cell page",
			zap.Int("offset", offset),
			zap.Int("page_records", len(resp.Results)),
			zap.Int("records_seen", prog.Records),
			zap.Int64("total_reported", resp.Count),
		)

		if err := handle(resp.Results); err != nil {
			return prog, err
		}

		if resp.EndOfRecords {
			log.Info("cell complete", zap.Int("pages", prog.Pages), zap.Int("records", prog.Records))
			return prog, nil
		}
		offset += len(resp.Results)
	}
}
