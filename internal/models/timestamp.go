package models

import (
	"math"
	"time"
)

// TimeLayout is ISO-8601 UTC with millisecond precision, the format every
// lastUpdate/timestamp field is stored in.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout (UTC)
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and plain RFC3339 values
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// NewerThan reports whether stamp a is strictly later than stamp b.
// An unparseable or empty stamp is never newer than anything.
func NewerThan(a, b string) bool {
	ta, ok := ParseTime(a)
	if !ok {
		return false
	}
	tb, ok := ParseTime(b)
	if !ok {
		return true
	}
	return ta.After(tb)
}

// LatestStamp returns the most recent of the given stamps
func LatestStamp(stamps ...string) string {
	latest := ""
	for _, s := range stamps {
		if latest == "" || NewerThan(s, latest) {
			if _, ok := ParseTime(s); ok {
				latest = s
			}
		}
	}
	return latest
}

// ClampPercent clamps v to [0,100]; NaN becomes 0
func ClampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
