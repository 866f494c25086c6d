package booking

import (
	"fmt"
	"strings"
	"time"
)

// ParseSlot converts a user supplied slot into a UTC instant truncated to the
// minute.  Accepted forms, interpreted in loc unless they carry an offset:
//
//	HH:MM               today in loc
//	YYYY-MM-DDTHH:MM    a local wall clock time
//	RFC 3339            an absolute instant
func ParseSlot(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidSlot)
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Truncate(time.Minute), nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC().Truncate(time.Minute), nil
		}
	}
	if clock, err := time.Parse("15:04", raw); err == nil {
		today := now.In(loc)
		t := time.Date(today.Year(), today.Month(), today.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidSlot, raw)
}
