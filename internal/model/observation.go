// Package model defines the canonical observation types shared by the sync pipeline.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies the provenance of a curated observation.
type Source string

const (
	SourceOBIS  Source = "OBIS"
	SourceGBIF  Source = "GBIF"
	SourceBoth  Source = "BOTH"
	SourceUser  Source = "user"
	SourceOther Source = "other"
)

// ParseSource validates a source string from CLI flags or stored rows.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceOBIS, SourceGBIF, SourceBoth, SourceUser, SourceOther:
		return Source(s), nil
	default:
		return "", fmt.Errorf("model: unknown source %q", s)
	}
}

// Provider reports whether the source is one of the external providers the
// pipeline manages. User and other rows are never touched by sync or dedup.
func (s Source) Provider() bool {
	return s == SourceOBIS || s == SourceGBIF || s == SourceBoth
}

// Validation states for a curated observation. Sync preserves whatever state a
// row already carries; only humans move rows between states.
const (
	ValidationPending   = "pending"
	ValidationValidated = "validated"
	ValidationRejected  = "rejected"
)

// Sex values standardized by the normalizer.
const (
	SexMale    = "male"
	SexFemale  = "female"
	SexUnknown = "unknown"
)

// Point is a WGS84 longitude/latitude pair.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// CuratedObservation is the canonical, persistent occurrence record.
type CuratedObservation struct {
	ID           string `json:"id"`
	OccurrenceID string `json:"occurrence_id,omitempty"`

	SpeciesName string  `json:"species_name"`
	CommonName  *string `json:"common_name,omitempty"`

	Location             Point     `json:"location"`
	ObservationDatetime  time.Time `json:"observation_datetime"`
	LocationName         *string   `json:"location_name,omitempty"`
	BasisOfRecord        *string   `json:"basis_of_record,omitempty"`
	DatasetName          *string   `json:"dataset_name,omitempty"`
	Notes                *string   `json:"notes,omitempty"`

	DepthMin    *float64 `json:"depth_min,omitempty"`
	DepthMax    *float64 `json:"depth_max,omitempty"`
	Bathymetry  *float64 `json:"bathymetry,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Visibility  *float64 `json:"visibility,omitempty"`

	Sex       string `json:"sex"`
	Source    Source `json:"source"`
	Validated string `json:"validated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a fresh opaque observation identifier.
func NewID() string {
	return uuid.NewString()
}

// NaturalKey returns the upsert key for a provider record: the source-native
// occurrence id when present, otherwise species + rounded location + rounded
// time. Rounding absorbs provider precision differences at the key level only;
// the deduplicator applies the real tolerances.
func (o *CuratedObservation) NaturalKey() string {
	if o.OccurrenceID != "" {
		return o.OccurrenceID
	}
	return fmt.Sprintf("%s|%.3f|%.3f|%s",
		strings.ToLower(o.SpeciesName),
		round3(o.Location.Lng),
		round3(o.Location.Lat),
		o.ObservationDatetime.UTC().Truncate(time.Hour).Format(time.RFC3339),
	)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
