package syncagent

import (
	"time"

	"fleetsync/internal/events"
)

const (
	excellentLatency = time.Second
	goodLatency      = 3 * time.Second
)

// Classify maps the outcome of a pull onto a connection health
func Classify(latency time.Duration, err error) events.Health {
	switch {
	case err != nil:
		return events.HealthPoor
	case latency < excellentLatency:
		return events.HealthExcellent
	case latency < goodLatency:
		return events.HealthGood
	default:
		return events.HealthSlow
	}
}
