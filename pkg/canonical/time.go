package canonical

import (
	"fmt"
	"time"
)

// Timestamp layouts used across sealed artifacts. All times are UTC with a
// literal Z suffix; no sub-second precision is recorded.
const (
	layoutUTC     = "2006-01-02T15:04:05Z"
	layoutCompact = "20060102T150405Z"
)

// FormatUTC renders t as an ISO-8601 UTC timestamp with a literal Z.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(layoutUTC)
}

// FormatUTCCompact renders t in the filename-safe form used by sealed run
// filenames, e.g. 20260221T000000Z.
func FormatUTCCompact(t time.Time) string {
	return t.UTC().Format(layoutCompact)
}

// ParseClock parses a fixed-clock argument. Accepts the canonical form and
// full RFC 3339; the result is always in UTC.
func ParseClock(s string) (time.Time, error) {
	for _, layout := range []string{layoutUTC, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("canonical: invalid clock %q (want ISO-8601 UTC, e.g. 2026-02-21T00:00:00Z)", s)
}
