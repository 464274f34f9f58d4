package storage

import (
	"testing"
	"time"
)

func TestParseTimeRange(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		from, to string
		wantFrom *time.Time
		wantTo   *time.Time
		wantErr  bool
	}{
		{name: "open"},
		{name: "date only", from: "2024-03-01", to: "2024-03-01", wantFrom: &day, wantTo: ptr(day.Add(24*time.Hour - time.Nanosecond))},
		{name: "timestamp", from: "2024-03-01T10:00:00+02:00", wantFrom: ptr(day.Add(8 * time.Hour))},
		{name: "naive timestamp", to: "2024-03-01T10:00:00", wantTo: ptr(day.Add(10 * time.Hour))},
		{name: "invalid", from: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseTimeRange(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !sameTime(r.From, tt.wantFrom) || !sameTime(r.To, tt.wantTo) {
				t.Fatalf("range = %v..%v, want %v..%v", r.From, r.To, tt.wantFrom, tt.wantTo)
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
