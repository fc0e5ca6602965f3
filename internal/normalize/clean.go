package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kuroshio-lab/species-sync/internal/model"
)

var (
	titleCaser = cases.Title(language.English)

	camelBoundary   = regexp.MustCompile(`([a-z])([A-Z])`)
	acronymBoundary = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
	spaceRun        = regexp.MustCompile(`\s+`)
)

// TitleCase normalizes provider strings like "HUMAN_OBSERVATION",
// "HumanObservation", or "green sea turtle" into "Human Observation" /
// "Green Sea Turtle". Returns nil for empty input.
func TitleCase(s string) *string {
	if s == "" {
		return nil
	}

	cleaned := strings.NewReplacer("_", " ", "-", " ").Replace(s)
	cleaned = camelBoundary.ReplaceAllString(cleaned, "$1 $2")
	cleaned = acronymBoundary.ReplaceAllString(cleaned, "$1 $2")
	cleaned = spaceRun.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}

	cased := titleCaser.String(strings.ToLower(cleaned))
	return &cased
}

// SpeciesKey normalizes a scientific name for map keys and comparisons.
func SpeciesKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// StandardizeSex maps provider sex values onto male/female/unknown.
func StandardizeSex(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male", "m":
		return model.SexMale
	case "female", "f":
		return model.SexFemale
	default:
		return model.SexUnknown
	}
}

// HarmonizeDepth fills missing depth bounds: a single point depth becomes both
// bounds, and a lone min or max is mirrored. Nil stays nil; "no data" is
// distinct from a zero-meter depth.
func HarmonizeDepth(depth, depthMin, depthMax *float64) (*float64, *float64) {
	if depth != nil {
		if depthMin == nil {
			depthMin = depth
		}
		if depthMax == nil {
			depthMax = depth
		}
	}
	if depthMin != nil && depthMax == nil {
		depthMax = depthMin
	}
	if depthMax != nil && depthMin == nil {
		depthMin = depthMax
	}
	return depthMin, depthMax
}
