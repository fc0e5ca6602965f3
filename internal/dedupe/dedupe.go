// Package dedupe finds cross-provider duplicates among curated observations
// and plans their merges. Matching and merging are pure; the store applies
// the resulting plan.
package dedupe

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kuroshio-lab/species-sync/internal/model"
)

const earthRadiusMeters = 6371000.0

// Options control how close two records must be to count as the same sighting.
type Options struct {
	// DistanceMeters is the maximum great-circle distance between two records.
	DistanceMeters float64
	// TimeWindow is the maximum gap between observation timestamps.
	TimeWindow time.Duration
	// Prefer names the source whose field values win when records conflict.
	Prefer model.Source
}

// DefaultOptions returns the tolerances used when none are configured:
// roughly one kilometer and one day, preferring OBIS.
func DefaultOptions() Options {
	return Options{
		DistanceMeters: 1000,
		TimeWindow:     24 * time.Hour,
		Prefer:         model.SourceOBIS,
	}
}

// Group is one planned merge: the surviving merged record plus the ids of the
// records it absorbs.
type Group struct {
	Merged   model.CuratedObservation
	Absorbed []string
}

// Plan is the full set of merges for one deduplication pass.
type Plan struct {
	Groups []Group
	// Scanned counts the records considered.
	Scanned int
}

// MergeCount reports how many records the plan removes.
func (p Plan) MergeCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Absorbed)
	}
	return n
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b model.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Match reports whether two records describe the same sighting: same species
// (case-insensitive) within the distance and time tolerances. Records sharing
// an occurrence id always match regardless of tolerance.
func Match(a, b model.CuratedObservation, opts Options) bool {
	if a.OccurrenceID != "" && a.OccurrenceID == b.OccurrenceID {
		return true
	}
	if !strings.EqualFold(strings.TrimSpace(a.SpeciesName), strings.TrimSpace(b.SpeciesName)) {
		return false
	}
	if Haversine(a.Location, b.Location) > opts.DistanceMeters {
		return false
	}
	gap := a.ObservationDatetime.Sub(b.ObservationDatetime)
	if gap < 0 {
		gap = -gap
	}
	return gap <= opts.TimeWindow
}

// BuildPlan clusters provider records into merge groups. Only records from
// OBIS, GBIF, or BOTH participate; user rows and unknown sources are never
// touched. A cluster merges only when it spans more than one provider, so
// repeated within-provider sightings stay distinct and a second pass over
// already-merged data is a no-op.
func BuildPlan(records []model.CuratedObservation, opts Options) Plan {
	if opts.DistanceMeters <= 0 || opts.TimeWindow <= 0 {
		def := DefaultOptions()
		if opts.DistanceMeters <= 0 {
			opts.DistanceMeters = def.DistanceMeters
		}
		if opts.TimeWindow <= 0 {
			opts.TimeWindow = def.TimeWindow
		}
	}
	if opts.Prefer != model.SourceOBIS && opts.Prefer != model.SourceGBIF {
		opts.Prefer = model.SourceOBIS
	}

	candidates := make([]model.CuratedObservation, 0, len(records))
	for _, rec := range records {
		switch rec.Source {
		case model.SourceOBIS, model.SourceGBIF, model.SourceBoth:
			candidates = append(candidates, rec)
		}
	}

	// Earliest-created record seeds each cluster so repeated runs pick the
	// same anchors.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	plan := Plan{Scanned: len(candidates)}
	claimed := make([]bool, len(candidates))

	for i := range candidates {
		if claimed[i] {
			continue
		}
		cluster := []int{i}
		claimed[i] = true
		for j := i + 1; j < len(candidates); j++ {
			if claimed[j] {
				continue
			}
			if Match(candidates[i], candidates[j], opts) {
				cluster = append(cluster, j)
				claimed[j] = true
			}
		}
		if len(cluster) < 2 {
			continue
		}
		group, ok := mergeCluster(candidates, cluster, opts)
		if !ok {
			continue
		}
		plan.Groups = append(plan.Groups, group)
	}

	if len(plan.Groups) > 0 {
		zap.L().Debug("dedupe: plan built",
			zap.Int("scanned", plan.Scanned),
			zap.Int("groups", len(plan.Groups)),
			zap.Int("merged", plan.MergeCount()))
	}
	return plan
}

// mergeCluster folds one cluster into a single record. Clusters whose members
// all come from the same single provider are left alone.
func mergeCluster(records []model.CuratedObservation, cluster []int, opts Options) (Group, bool) {
	seen := map[model.Source]bool{}
	for _, idx := range cluster {
		seen[records[idx].Source] = true
	}
	crossProvider := len(seen) > 1 || seen[model.SourceBoth]
	if !crossProvider {
		return Group{}, false
	}
	// A pile of already-merged rows has nothing new to fold in.
	if len(seen) == 1 && seen[model.SourceBoth] {
		return Group{}, false
	}

	primaryIdx := pickPrimary(records, cluster, opts.Prefer)
	merged := records[primaryIdx]
	absorbed := make([]string, 0, len(cluster)-1)
	for _, idx := range cluster {
		if idx == primaryIdx {
			continue
		}
		merged = Merge(merged, records[idx])
		absorbed = append(absorbed, records[idx].ID)
	}
	sort.Strings(absorbed)
	return Group{Merged: merged, Absorbed: absorbed}, true
}

// pickPrimary chooses the record whose fields win: the earliest record from
// the preferred source, or from BOTH, falling back to the cluster seed.
func pickPrimary(records []model.CuratedObservation, cluster []int, prefer model.Source) int {
	for _, idx := range cluster {
		if records[idx].Source == model.SourceBoth {
			return idx
		}
	}
	for _, idx := range cluster {
		if records[idx].Source == prefer {
			return idx
		}
	}
	return cluster[0]
}
