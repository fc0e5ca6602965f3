package gbif

import (
	"github.com/rotisserie/eris"
)

// OceanRegion is a named polygon used to partition worldwide marine coverage.
// GBIF caps the complexity of search geometries, so worldwide sync walks these
// eight coarse, near-disjoint boxes instead of one global polygon. Overlapping
// edges produce duplicate records that the occurrence-id upsert absorbs.
type OceanRegion struct {
	Name string
	WKT  string
}

// OceanRegions returns the fixed region partition in a stable order.
func OceanRegions() []OceanRegion {
	return []OceanRegion{
		{"North Atlantic", "POLYGON((-100 0, 40 0, 40 66, -100 66, -100 0))"},
		{"South Atlantic", "POLYGON((-70 -60, 40 -60, 40 0, -70 0, -70 -60))"},
		{"Indian", "POLYGON((40 -60, 100 -60, 100 30, 40 30, 40 -60))"},
		{"North Pacific West", "POLYGON((100 0, 180 0, 180 66, 100 66, 100 0))"},
		{"North Pacific East", "POLYGON((-180 0, -100 0, -100 66, -180 66, -180 0))"},
		{"South Pacific West", "POLYGON((100 -60, 180 -60, 180 0, 100 0, 100 -60))"},
		{"South Pacific East", "POLYGON((-180 -60, -70 -60, -70 0, -180 0, -180 -60))"},
		{"Southern", "POLYGON((-180 -90, 180 -90, 180 -60, -180 -60, -180 -90))"},
	}
}

// RegionByName looks up a single region, for per-region reruns.
func RegionByName(name string) (OceanRegion, error) {
	for _, r := range OceanRegions() {
		if r.Name == name {
			return r, nil
		}
	}
	return OceanRegion{}, eris.Errorf("gbif: unknown ocean region %q", name)
}

// Cell is one independently fetchable (region, year) unit of a sync run.
// Full-historical syncs partition by single calendar year so each request
// stays inside GBIF's response-size limits; a failing cell voids only itself.
type Cell struct {
	Region OceanRegion
	Year   int
}

// BuildCells expands regions x years into the fetch plan. Duplicate years
// collapse; order is regions-major to keep logs grouped by ocean.
func BuildCells(regions []OceanRegion, years []int) []Cell {
	seen := make(map[int]bool, len(years))
	uniq := make([]int, 0, len(years))
	for _, y := range years {
		if !seen[y] {
			seen[y] = true
			uniq = append(uniq, y)
		}
	}

	cells := make([]Cell, 0, len(regions)*len(uniq))
	for _, r := range regions {
		for _, y := range uniq {
			cells = append(cells, Cell{Region: r, Year: y})
		}
	}
	return cells
}
