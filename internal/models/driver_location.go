package models

import (
	"fmt"
	"strconv"
)

// DriverLocation is the latest GPS fix for a driver. One per driver, overwritten in place.
type DriverLocation struct {
	DriverID  string   `json:"driverId"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Timestamp string   `json:"timestamp"`
	Accuracy  *float64 `json:"accuracy,omitempty"` // GPS accuracy in meters
	Speed     *float64 `json:"speed,omitempty"`    // Speed in m/s
}

func (l DriverLocation) EntityID() string { return l.DriverID }

func (l DriverLocation) Stamp() string { return l.Timestamp }

func (l DriverLocation) VolatileFields() string {
	return fmt.Sprintf("%s|%s|%s|%s",
		strconv.FormatFloat(l.Lat, 'f', 7, 64),
		strconv.FormatFloat(l.Lng, 'f', 7, 64),
		optionalFloat(l.Accuracy),
		optionalFloat(l.Speed))
}

func optionalFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 3, 64)
}

// LocationMap converts the map form into a slice for fingerprinting
func LocationMap(locations map[string]DriverLocation) []DriverLocation {
	out := make([]DriverLocation, 0, len(locations))
	for id, loc := range locations {
		if loc.DriverID == "" {
			loc.DriverID = id
		}
		out = append(out, loc)
	}
	return out
}

// CloneLocations copies a location map
func CloneLocations(in map[string]DriverLocation) map[string]DriverLocation {
	if in == nil {
		return nil
	}
	out := make(map[string]DriverLocation, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
