package syncagent

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
)

// The targeted calls below back the driver controller. Each returns whether
// the server acknowledged the change. A retriable failure queues a partial
// push of the affected collections and returns (false, nil); err is only set
// when the server rejected the request, for example with a 404.

// SyncStatus sends a movement or availability change
func (a *Agent) SyncStatus(ctx context.Context, driverID string, req models.StatusUpdateRequest) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	_, err := a.api.UpdateStatus(ctx, driverID, req)
	return a.settle("status", driverID, err, models.KindUsers)
}

// SyncFuel sends a fuel level
func (a *Agent) SyncFuel(ctx context.Context, driverID string, level float64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	_, err := a.api.UpdateFuel(ctx, driverID, models.FuelUpdateRequest{FuelLevel: &level})
	return a.settle("fuel", driverID, err, models.KindUsers)
}

// SyncRouteCompletion runs the server-side end-of-route cascade and folds the
// server's view of the driver and the completed routes back into the store.
func (a *Agent) SyncRouteCompletion(ctx context.Context, driverID string, req models.RouteCompletionRequest) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	resp, err := a.api.CompleteRoute(ctx, driverID, req)
	ack, err := a.settle("route-completion", driverID, err, models.KindUsers, models.KindRoutes)
	if !ack {
		return ack, err
	}

	a.store.Apply(localstore.OriginRemote, func(snap *models.Snapshot) []models.CollectionKind {
		var kinds []models.CollectionKind
		if resp.Driver.ID != "" {
			snap.Users = unionByIdentity(snap.Users, []models.User{resp.Driver}, nil, resolveUser, userNaturalKey)
			kinds = append(kinds, models.KindUsers)
		}
		if len(resp.Routes) > 0 {
			snap.Routes = unionByIdentity(snap.Routes, resp.Routes, nil, keepServer[models.Route], nil)
			kinds = append(kinds, models.KindRoutes)
		}
		return kinds
	})
	return true, nil
}

// SyncLocation reports a GPS fix
func (a *Agent) SyncLocation(ctx context.Context, loc models.DriverLocation) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	req := models.LocationUpdateRequest{
		Lat:       &loc.Lat,
		Lng:       &loc.Lng,
		Timestamp: loc.Timestamp,
		Accuracy:  loc.Accuracy,
		Speed:     loc.Speed,
	}
	_, err := a.api.UpdateLocation(ctx, loc.DriverID, req)
	return a.settle("location", loc.DriverID, err, models.KindDriverLocations)
}

// SyncIssue reports a field issue; the server raises the manager alert
func (a *Agent) SyncIssue(ctx context.Context, issue models.Issue) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	_, err := a.api.ReportIssue(ctx, issue)
	return a.settle("issue", issue.DriverID, err, models.KindIssues, models.KindAlerts)
}

func (a *Agent) settle(op, driverID string, err error, kinds ...models.CollectionKind) (bool, error) {
	if err == nil {
		return true, nil
	}

	fields := logrus.Fields{"op": op, "driver_id": driverID}
	if IsRetriable(err) || errors.Is(err, context.Canceled) {
		a.log.WithError(err).WithFields(fields).Warn("⚠️ Targeted sync failed, queued for later push")
		a.enqueuePartial(kinds...)
		return false, nil
	}
	if IsNotFound(err) {
		a.log.WithError(err).WithFields(fields).Warn("❌ Targeted sync target not found on server")
		return false, err
	}
	a.log.WithError(err).WithFields(fields).Warn("❌ Targeted sync rejected")
	return false, err
}
