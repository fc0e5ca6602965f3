// Package normalize maps raw OBIS and GBIF payloads into the canonical
// CuratedObservation shape. Source-specific record shapes stop here.
package normalize

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/kuroshio-lab/species-sync/internal/gbif"
	"github.com/kuroshio-lab/species-sync/internal/model"
	"github.com/kuroshio-lab/species-sync/internal/obis"
)

// ErrMalformedRecord marks a raw record that cannot be normalized. The caller
// skips and counts it; one bad record never aborts a batch.
var ErrMalformedRecord = eris.New("malformed record")

// FromOBIS converts a raw OBIS record into a curated observation candidate.
func FromOBIS(rec obis.Record) (model.CuratedObservation, error) {
	if rec.ID == "" && rec.OccurrenceID == "" {
		return model.CuratedObservation{}, eris.Wrap(ErrMalformedRecord, "obis record missing id")
	}
	occurrenceID := rec.OccurrenceID
	if occurrenceID == "" {
		occurrenceID = "OBIS:" + rec.ID
	}

	if rec.DecimalLongitude == nil || rec.DecimalLatitude == nil {
		return model.CuratedObservation{}, eris.Wrapf(ErrMalformedRecord, "obis %s missing coordinates", occurrenceID)
	}
	if err := validateCoordinates(*rec.DecimalLongitude, *rec.DecimalLatitude); err != nil {
		return model.CuratedObservation{}, eris.Wrapf(err, "obis %s", occurrenceID)
	}

	if rec.ScientificName == "" {
		return model.CuratedObservation{}, eris.Wrapf(ErrMalformedRecord, "obis %s missing species", occurrenceID)
	}

	observedAt, err := ParseEventDate(rec.EventDate)
	if err != nil {
		return model.CuratedObservation{}, eris.Wrapf(ErrMalformedRecord, "obis %s: %v", occurrenceID, err)
	}

	depthMin, depthMax := HarmonizeDepth(rec.Depth, rec.MinimumDepthInMeters, rec.MaximumDepthInMeters)

	locationName := rec.DatasetName
	if locationName == "" {
		locationName = "OBIS record"
	}
	notes := fmt.Sprintf("Imported from OBIS dataset: %s", orUnknown(rec.DatasetName))

	return model.CuratedObservation{
		ID:                  model.NewID(),
		OccurrenceID:        occurrenceID,
		SpeciesName:         rec.ScientificName,
		CommonName:          TitleCase(rec.VernacularName),
		Location:            model.Point{Lng: *rec.DecimalLongitude, Lat: *rec.DecimalLatitude},
		ObservationDatetime: observedAt,
		LocationName:        &locationName,
		BasisOfRecord:       TitleCase(rec.BasisOfRecord),
		DatasetName:         nonEmpty(rec.DatasetName),
		Notes:               &notes,
		DepthMin:            depthMin,
		DepthMax:            depthMax,
		Bathymetry:          rec.Bathymetry,
		Temperature:         rec.SeaSurfaceTemperature,
		Sex:                 StandardizeSex(rec.Sex),
		Source:              model.SourceOBIS,
		Validated:           model.ValidationValidated,
	}, nil
}

// FromGBIF converts a raw GBIF record into a curated observation candidate.
func FromGBIF(rec gbif.Record) (model.CuratedObservation, error) {
	if rec.Key == 0 && rec.OccurrenceID == "" {
		return model.CuratedObservation{}, eris.Wrap(ErrMalformedRecord, "gbif record missing key")
	}
	occurrenceID := rec.OccurrenceID
	if occurrenceID == "" {
		occurrenceID = fmt.Sprintf("GBIF:%d", rec.Key)
	}

	if rec.ScientificName == "" {
		return model.CuratedObservation{}, eris.Wrapf(ErrMalformedRecord, "gbif %s missing species", occurrenceID)
	}
	if rec.DecimalLongitude == nil || rec.DecimalLatitude == nil {
		return model.CuratedObservation{}, eris.Wrapf(ErrMalformedRecord, "gbif %s missing coordinates", occurrenceID)
	}
	if err := validateCoordinates(*rec.DecimalLongitude, *rec.DecimalLatitude); err != nil {
		return model.CuratedObservation{}, eris.Wrapf(err, "gbif %s", occurrenceID)
	}

	observedAt, err := ParseEventDate(rec.EventDate)
	if err != nil {
		return model.CuratedObservation{}, eris.Wrapf(ErrMalformedRecord, "gbif %s: %v", occurrenceID, err)
	}

	// GBIF's bare "depth" is the sampling depth, kept as bathymetry to match
	// the curated schema.
	depthMin, depthMax := HarmonizeDepth(nil, rec.MinimumDepthInMeters, rec.MaximumDepthInMeters)

	locationName := rec.WaterBody
	if locationName == "" {
		locationName = rec.DatasetName
	}
	notes := fmt.Sprintf("Imported from GBIF dataset: %s", orUnknown(rec.DatasetName))

	return model.CuratedObservation{
		ID:                  model.NewID(),
		OccurrenceID:        occurrenceID,
		SpeciesName:         rec.ScientificName,
		CommonName:          TitleCase(rec.VernacularName),
		Location:            model.Point{Lng: *rec.DecimalLongitude, Lat: *rec.DecimalLatitude},
		ObservationDatetime: observedAt,
		LocationName:        nonEmpty(locationName),
		BasisOfRecord:       TitleCase(rec.BasisOfRecord),
		DatasetName:         nonEmpty(rec.DatasetName),
		Notes:               &notes,
		DepthMin:            depthMin,
		DepthMax:            depthMax,
		Bathymetry:          rec.Depth,
		Temperature:         rec.WaterTemperature,
		Sex:                 StandardizeSex(rec.Sex),
		Source:              model.SourceGBIF,
		Validated:           model.ValidationValidated,
	}, nil
}

func validateCoordinates(lng, lat float64) error {
	if lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return eris.Wrapf(ErrMalformedRecord, "coordinates out of range (%f, %f)", lng, lat)
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
