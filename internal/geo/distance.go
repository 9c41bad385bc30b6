package geo

import (
	"math"
	"time"
)

const earthRadiusMeters = 6371000.0

// HaversineMeters calculates the great-circle distance between two GPS coordinates in meters
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	// Convert to radians
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// SpeedMetersPerSecond derives speed from two consecutive fixes.
// Returns false when elapsed time is not positive.
func SpeedMetersPerSecond(lat1, lon1 float64, t1 time.Time, lat2, lon2 float64, t2 time.Time) (float64, bool) {
	elapsed := t2.Sub(t1).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	return HaversineMeters(lat1, lon1, lat2, lon2) / elapsed, true
}
