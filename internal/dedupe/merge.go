package dedupe

import (
	"github.com/kuroshio-lab/species-sync/internal/model"
)

// Merge combines two records of the same sighting into one. The preferred
// record's fields win on conflict; nil fields are backfilled from the other
// record so merging never loses information. Location, timestamp, and
// occurrence id always come from the preferred record. The result carries
// source BOTH.
func Merge(preferred, other model.CuratedObservation) model.CuratedObservation {
	merged := preferred

	if merged.CommonName == nil {
		merged.CommonName = other.CommonName
	}
	if merged.LocationName == nil {
		merged.LocationName = other.LocationName
	}
	if merged.BasisOfRecord == nil {
		merged.BasisOfRecord = other.BasisOfRecord
	}
	if merged.DatasetName == nil {
		merged.DatasetName = other.DatasetName
	}
	if merged.Notes == nil {
		merged.Notes = other.Notes
	}
	if merged.DepthMin == nil {
		merged.DepthMin = other.DepthMin
	}
	if merged.DepthMax == nil {
		merged.DepthMax = other.DepthMax
	}
	if merged.Bathymetry == nil {
		merged.Bathymetry = other.Bathymetry
	}
	if merged.Temperature == nil {
		merged.Temperature = other.Temperature
	}
	if merged.Visibility == nil {
		merged.Visibility = other.Visibility
	}
	if merged.Sex == model.SexUnknown && other.Sex != "" {
		merged.Sex = other.Sex
	}

	merged.Source = model.SourceBoth
	return merged
}
