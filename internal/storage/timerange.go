package storage

import (
	"fmt"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseTimeRange parses ISO 8601 bounds. Empty strings leave the end open.
// A date without a time covers the whole day: the lower bound starts at
// midnight UTC and the upper bound ends at its last nanosecond.
func ParseTimeRange(from, to string) (TimeRange, error) {
	var r TimeRange
	if from = strings.TrimSpace(from); from != "" {
		t, err := parseBound(from, false)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid date_from %q: %w", from, err)
		}
		r.From = &t
	}
	if to = strings.TrimSpace(to); to != "" {
		t, err := parseBound(to, true)
		if err != nil {
			return TimeRange{}, fmt.Errorf("invalid date_to %q: %w", to, err)
		}
		r.To = &t
	}
	return r, nil
}

func parseBound(s string, endOfDay bool) (time.Time, error) {
	if day, err := time.Parse(time.DateOnly, s); err == nil {
		if endOfDay {
			return day.Add(24*time.Hour - time.Nanosecond), nil
		}
		return day, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expected ISO 8601 date or timestamp")
}
