package models

import (
	"fmt"
	"strings"
	"time"
)

// PreviewKeyLayout is fixed-width so that lexicographic order equals time order.
const PreviewKeyLayout = "2006-01-02T15:04:05.000000Z"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts the timestamp shapes produced by Postgres JSON
// encoding and by clients: optional zone, 'T' or space separator, any
// fractional precision. Zoneless values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// PreviewKey formats t for lexicographic "is newer" comparisons.
func PreviewKey(t time.Time) string {
	return t.UTC().Format(PreviewKeyLayout)
}
