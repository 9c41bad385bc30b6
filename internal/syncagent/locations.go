package syncagent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fleetsync/internal/events"
	"fleetsync/internal/fingerprint"
	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
)

// LocationPoller feeds a manager's store from GET /driver/locations on a
// fixed interval, independent of the adaptive sync loop.
type LocationPoller struct {
	api      API
	store    *localstore.Store
	bus      *events.Bus
	log      logrus.FieldLogger
	interval time.Duration
	timeout  time.Duration
}

func NewLocationPoller(api API, store *localstore.Store, bus *events.Bus, log logrus.FieldLogger, interval, timeout time.Duration) *LocationPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = DefaultOptions().RequestTimeout
	}
	return &LocationPoller{
		api:      api,
		store:    store,
		bus:      bus,
		log:      log.WithField("component", "locations"),
		interval: interval,
		timeout:  timeout,
	}
}

// Run polls until ctx is cancelled
func (p *LocationPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *LocationPoller) poll(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.log.WithError(err).Debug("⚠️ Driver locations poll failed")
	}
}

// Poll fetches the observer view once and reports whether the local map moved.
// An empty reply keeps the current map.
func (p *LocationPoller) Poll(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	drivers, err := p.api.DriverLocations(ctx)
	if err != nil {
		return false, err
	}

	next := ToLocationMap(drivers)
	if len(next) == 0 {
		return false, nil
	}

	current := p.store.DriverLocations()
	for id, loc := range next {
		// The observer view carries no speed; keep the one from the same fix
		if prev, ok := current[id]; ok && prev.Timestamp == loc.Timestamp && loc.Speed == nil {
			loc.Speed = prev.Speed
			next[id] = loc
		}
	}

	before := fingerprint.Kind(models.Snapshot{DriverLocations: current}, models.KindDriverLocations)
	after := fingerprint.Kind(models.Snapshot{DriverLocations: next}, models.KindDriverLocations)
	if before == after {
		return false, nil
	}

	p.store.SetDriverLocations(next, localstore.OriginRemote)
	p.bus.Publish(events.DataChanged{
		Kinds:  []models.CollectionKind{models.KindDriverLocations},
		Source: "locations",
	})
	return true, nil
}

// ToLocationMap translates observer records (latitude/longitude) into the
// location map shape (lat/lng). Drivers without a fix are left out.
func ToLocationMap(drivers []models.ObservedDriver) map[string]models.DriverLocation {
	out := make(map[string]models.DriverLocation, len(drivers))
	for _, d := range drivers {
		if d.ID == "" || d.Location == nil {
			continue
		}
		out[d.ID] = models.DriverLocation{
			DriverID:  d.ID,
			Lat:       d.Location.Latitude,
			Lng:       d.Location.Longitude,
			Accuracy:  d.Location.Accuracy,
			Timestamp: d.LastUpdate,
		}
	}
	return out
}
