package models

import (
	"fmt"
	"strconv"
)

const (
	BinStatusNormal   = "normal"
	BinStatusWarning  = "warning"
	BinStatusCritical = "critical"
)

// Bin thresholds used to derive Status
const (
	binCriticalFill = 90.0
	binWarningFill  = 75.0
	binCriticalTemp = 50.0
	binWarningTemp  = 40.0
)

// Bin is a collection point. The sync core only consumes bins; it never mutates them centrally.
type Bin struct {
	ID          string  `json:"id"`
	Location    string  `json:"location,omitempty"`
	Fill        float64 `json:"fill"`
	Temperature float64 `json:"temperature,omitempty"`
	Status      string  `json:"status"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	LastUpdate  string  `json:"lastUpdate,omitempty"`
}

func (b Bin) EntityID() string { return b.ID }

func (b Bin) Stamp() string { return b.LastUpdate }

func (b Bin) VolatileFields() string {
	return fmt.Sprintf("%s|%s|%s",
		strconv.FormatFloat(b.Fill, 'f', -1, 64), b.Status, strconv.FormatFloat(b.Temperature, 'f', -1, 64))
}

// DeriveBinStatus maps fill level and temperature onto a status
func DeriveBinStatus(fill, temperature float64) string {
	switch {
	case fill >= binCriticalFill || temperature >= binCriticalTemp:
		return BinStatusCritical
	case fill >= binWarningFill || temperature >= binWarningTemp:
		return BinStatusWarning
	default:
		return BinStatusNormal
	}
}

// Normalize clamps fill and recomputes the derived status
func (b *Bin) Normalize() {
	b.Fill = ClampPercent(b.Fill)
	b.Status = DeriveBinStatus(b.Fill, b.Temperature)
}
