package normalize

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// eventDateLayouts covers the date shapes OBIS and GBIF actually emit, most
// specific first. Layouts without a zone are taken as UTC.
var eventDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseEventDate parses a provider event date into a UTC timestamp. Darwin
// Core interval forms ("start/end") resolve to the interval start.
func ParseEventDate(s string) (time.Time, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return time.Time{}, eris.New("normalize: empty event date")
	}

	// Interval form: take the start.
	if idx := strings.Index(raw, "/"); idx > 0 {
		raw = raw[:idx]
	}

	for _, layout := range eventDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("normalize: unparseable event date %q", s)
}
