// Package driver is the driver-side state machine. Every operation writes the
// local store first, tells listeners, then hands the change to the sync agent
// for a targeted round trip. Local state is never rolled back when that round
// trip fails; the next pull reconciles it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleetsync/internal/events"
	"fleetsync/internal/geo"
	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
	"fleetsync/pkg/utils"
)

// DefaultDebounce is the minimum gap between two accepted route toggles
const DefaultDebounce = 2 * time.Second

const pleaseWait = "Please wait, the previous route change is still being applied"

var (
	ErrUnknownDriver     = errors.New("driver not in local store")
	ErrIllegalTransition = errors.New("illegal movement status transition")
	ErrInvalidFuelLevel  = errors.New("fuel level must be between 0 and 100")
	ErrInvalidIssue      = errors.New("invalid issue")
	ErrInvalidLocation   = errors.New("invalid location")
)

// Syncer is the targeted sync surface of the sync agent. The bool reports
// server acknowledgement; err is set only for rejections such as not-found.
type Syncer interface {
	SyncStatus(ctx context.Context, driverID string, req models.StatusUpdateRequest) (bool, error)
	SyncFuel(ctx context.Context, driverID string, level float64) (bool, error)
	SyncRouteCompletion(ctx context.Context, driverID string, req models.RouteCompletionRequest) (bool, error)
	SyncLocation(ctx context.Context, loc models.DriverLocation) (bool, error)
	SyncIssue(ctx context.Context, issue models.Issue) (bool, error)
	RequestSync()
}

// Controller drives one driver's shift
type Controller struct {
	driverID string
	store    *localstore.Store
	syncer   Syncer
	bus      *events.Bus
	log      logrus.FieldLogger
	now      func() time.Time
	debounce time.Duration

	mu         sync.Mutex
	toggling   bool
	lastToggle time.Time
}

// Option customizes a Controller
type Option func(*Controller)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

func New(driverID string, store *localstore.Store, syncer Syncer, bus *events.Bus, log logrus.FieldLogger, opts ...Option) *Controller {
	c := &Controller{
		driverID: driverID,
		store:    store,
		syncer:   syncer,
		bus:      bus,
		log:      log.WithFields(logrus.Fields{"component": "driver", "driver_id": driverID}),
		now:      time.Now,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DriverID is the driver this controller acts for
func (c *Controller) DriverID() string {
	return c.driverID
}

// Driver returns the driver's local record
func (c *Controller) Driver() (models.User, error) {
	u, ok := c.store.User(c.driverID)
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", c.driverID, ErrUnknownDriver)
	}
	return u, nil
}

// Login seeds the driver and their first fix into the local store. Both are
// local-origin writes, so the sync agent pushes them on its next flush.
func (c *Controller) Login(ctx context.Context, profile models.User, lat, lng float64) (models.User, error) {
	if err := validateFix(lat, lng, nil); err != nil {
		return models.User{}, err
	}
	stamp := models.FormatTime(c.now())

	driver, ok := c.store.User(c.driverID)
	if !ok {
		driver = models.User{ID: c.driverID, FuelLevel: 100}
	}
	if profile.Username != "" {
		driver.Username = profile.Username
	}
	if profile.Name != "" {
		driver.Name = profile.Name
	}
	for k, v := range profile.Profile {
		if driver.Profile == nil {
			driver.Profile = make(map[string]any, len(profile.Profile))
		}
		driver.Profile[k] = v
	}
	driver.Role = models.RoleDriver
	driver.Status = models.DriverActive
	driver.MovementStatus = models.MovementStationary
	driver.LastStatusUpdate = stamp
	driver.LastUpdate = stamp

	c.store.UpsertUser(driver, localstore.OriginLocal)
	c.store.UpsertDriverLocation(models.DriverLocation{
		DriverID:  c.driverID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: stamp,
	}, localstore.OriginLocal)

	c.log.WithField("name", driver.Name).Info("👋 Driver logged in")
	c.bus.Publish(events.StatusChanged{
		DriverID:       c.driverID,
		MovementStatus: driver.MovementStatus,
		Status:         driver.Status,
	})
	return driver, nil
}

// ToggleRoute starts a route from stationary or ends the current one. It
// returns false without touching state when called inside the debounce window
// or while a previous toggle is still in flight.
func (c *Controller) ToggleRoute(ctx context.Context) (bool, error) {
	c.mu.Lock()
	now := c.now()
	if c.toggling || (!c.lastToggle.IsZero() && now.Sub(c.lastToggle) < c.debounce) {
		c.mu.Unlock()
		c.log.Debug("⏳ Route toggle rejected, debounce active")
		c.bus.Publish(events.Notice{Message: pleaseWait})
		return false, nil
	}

	driver, err := c.Driver()
	if err != nil {
		c.mu.Unlock()
		return false, err
	}
	ending := driver.MovementStatus == models.MovementOnRoute
	if !ending && !driver.MovementStatus.CanTransitionTo(models.MovementOnRoute) {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, driver.MovementStatus, models.MovementOnRoute)
	}
	c.toggling = true
	c.lastToggle = now
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.toggling = false
		c.mu.Unlock()
	}()

	if ending {
		c.endRoute(ctx, now)
	} else {
		c.startRoute(ctx, now)
	}
	return true, nil
}

func (c *Controller) startRoute(ctx context.Context, now time.Time) {
	stamp := models.FormatTime(now)
	driver, _ := c.store.UpdateUser(c.driverID, func(u *models.User) {
		u.MovementStatus = models.MovementOnRoute
		u.LastStatusUpdate = stamp
		u.LastUpdate = stamp
	}, localstore.OriginTargeted)
	c.log.Info("🚛 Route started")
	c.announce(driver, false)

	ack, err := c.syncer.SyncStatus(ctx, c.driverID, models.StatusUpdateRequest{MovementStatus: models.MovementOnRoute})
	c.reconcile("route-start", driver, ack, err)
}

// endRoute mirrors the server's completion cascade locally: the driver goes
// stationary and every live route of theirs is completed.
func (c *Controller) endRoute(ctx context.Context, now time.Time) {
	stamp := models.FormatTime(now)
	var (
		driver    models.User
		completed int
	)
	c.store.Apply(localstore.OriginTargeted, func(snap *models.Snapshot) []models.CollectionKind {
		kinds := []models.CollectionKind{models.KindUsers}
		for i := range snap.Users {
			if snap.Users[i].ID != c.driverID {
				continue
			}
			u := &snap.Users[i]
			u.MovementStatus = models.MovementStationary
			u.LastStatusUpdate = stamp
			u.LastUpdate = stamp
			driver = u.Clone()
		}
		for i := range snap.Routes {
			r := &snap.Routes[i]
			if r.DriverID != c.driverID || r.Status.Terminal() {
				continue
			}
			r.Status = models.RouteStatusCompleted
			r.CompletedAt = stamp
			r.CompletedBy = c.driverID
			r.LastUpdate = stamp
			completed++
		}
		if completed > 0 {
			kinds = append(kinds, models.KindRoutes)
		}
		return kinds
	})
	c.log.WithField("routes_completed", completed).Info("🏁 Route ended")
	c.announce(driver, false)

	ack, err := c.syncer.SyncRouteCompletion(ctx, c.driverID, models.RouteCompletionRequest{
		CompletionTime: stamp,
		Status:         driver.Status,
		MovementStatus: models.MovementStationary,
	})
	c.reconcile("route-end", driver, ack, err)
}

// TakeBreak moves a stationary driver on break
func (c *Controller) TakeBreak(ctx context.Context) error {
	return c.transition(ctx, models.MovementOnBreak, "")
}

// EndBreak returns the driver to stationary
func (c *Controller) EndBreak(ctx context.Context) error {
	return c.transition(ctx, models.MovementStationary, "")
}

// GoOffDuty ends the shift; off-duty has no outgoing transitions
func (c *Controller) GoOffDuty(ctx context.Context) error {
	return c.transition(ctx, models.MovementOffDuty, models.DriverInactive)
}

func (c *Controller) transition(ctx context.Context, next models.MovementStatus, status models.DriverStatus) error {
	current, err := c.Driver()
	if err != nil {
		return err
	}
	if !current.MovementStatus.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.MovementStatus, next)
	}

	stamp := models.FormatTime(c.now())
	driver, _ := c.store.UpdateUser(c.driverID, func(u *models.User) {
		u.MovementStatus = next
		if status != "" {
			u.Status = status
		}
		u.LastStatusUpdate = stamp
		u.LastUpdate = stamp
	}, localstore.OriginTargeted)
	c.log.WithFields(logrus.Fields{"from": current.MovementStatus, "to": next}).Info("🔁 Movement status changed")
	c.announce(driver, false)

	ack, err := c.syncer.SyncStatus(ctx, c.driverID, models.StatusUpdateRequest{MovementStatus: next, Status: status})
	c.reconcile(string(next), driver, ack, err)
	return nil
}

// UpdateFuel records a new fuel level. Listeners get the value directly
// because a pull racing this write may briefly show the older one.
func (c *Controller) UpdateFuel(ctx context.Context, level float64) error {
	if math.IsNaN(level) || level < 0 || level > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidFuelLevel, level)
	}

	stamp := models.FormatTime(c.now())
	if _, ok := c.store.UpdateUser(c.driverID, func(u *models.User) {
		u.FuelLevel = level
		u.LastFuelUpdate = stamp
		u.LastUpdate = stamp
	}, localstore.OriginTargeted); !ok {
		return fmt.Errorf("%s: %w", c.driverID, ErrUnknownDriver)
	}
	c.log.WithField("fuel_level", level).Info("⛽ Fuel level updated")
	c.bus.Publish(events.FuelChanged{DriverID: c.driverID, Level: level})

	ack, err := c.syncer.SyncFuel(ctx, c.driverID, level)
	c.settle("fuel", ack, err)
	return nil
}

// ReportIssue appends an issue and raises the matching alert locally. The
// alert ID is derived from the issue so the server's copy dedupes with ours.
func (c *Controller) ReportIssue(ctx context.Context, issueType, priority, description string) (models.Issue, error) {
	driver, err := c.Driver()
	if err != nil {
		return models.Issue{}, err
	}
	if priority == "" {
		priority = models.PriorityMedium
	}

	stamp := c.now()
	issue := models.Issue{
		ID:          uuid.NewString(),
		DriverID:    c.driverID,
		Type:        issueType,
		Priority:    priority,
		Description: description,
		Status:      "open",
		Timestamp:   models.FormatTime(stamp),
	}
	if err := utils.Validate(issue); err != nil {
		return models.Issue{}, fmt.Errorf("%w: %v", ErrInvalidIssue, err)
	}

	alert := models.AlertForIssue(issue, driver.Name)
	alert.Timestamp = issue.Timestamp
	c.store.AppendIssue(issue, localstore.OriginTargeted)
	c.store.AppendAlert(alert, localstore.OriginTargeted)

	c.log.WithFields(logrus.Fields{"issue_id": issue.ID, "type": issue.Type}).Warn("🚨 Issue reported")
	c.bus.Publish(events.AlertRaised{Alert: alert})

	ack, err := c.syncer.SyncIssue(ctx, issue)
	c.settle("issue", ack, err)
	return issue, nil
}

// UpdateLocation records a GPS fix, deriving speed from the previous one
func (c *Controller) UpdateLocation(ctx context.Context, lat, lng float64, accuracy *float64) (models.DriverLocation, error) {
	if err := validateFix(lat, lng, accuracy); err != nil {
		return models.DriverLocation{}, err
	}

	now := c.now()
	loc := models.DriverLocation{
		DriverID:  c.driverID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: models.FormatTime(now),
		Accuracy:  accuracy,
	}
	if prev, ok := c.store.DriverLocation(c.driverID); ok {
		if at, ok := models.ParseTime(prev.Timestamp); ok {
			if speed, ok := geo.SpeedMetersPerSecond(prev.Lat, prev.Lng, at, lat, lng, now); ok {
				loc.Speed = &speed
			}
		}
	}
	c.store.UpsertDriverLocation(loc, localstore.OriginTargeted)

	ack, err := c.syncer.SyncLocation(ctx, loc)
	c.settle("location", ack, err)
	return loc, nil
}

func validateFix(lat, lng float64, accuracy *float64) error {
	err := utils.Validate(models.LocationUpdateRequest{Lat: &lat, Lng: &lng, Accuracy: accuracy})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return nil
}

func (c *Controller) announce(driver models.User, confirmed bool) {
	c.bus.Publish(events.StatusChanged{
		DriverID:       c.driverID,
		MovementStatus: driver.MovementStatus,
		Status:         driver.Status,
		Confirmed:      confirmed,
	})
}

// reconcile follows up a state transition: once the server acknowledged it,
// listeners get the confirmed state and the agent pulls the server's view.
func (c *Controller) reconcile(op string, driver models.User, ack bool, err error) {
	if !c.settle(op, ack, err) {
		return
	}
	c.announce(driver, true)
	c.syncer.RequestSync()
}

// settle turns a targeted sync outcome into log lines and notices. Network
// failures were already queued by the agent and never reach the caller.
func (c *Controller) settle(op string, ack bool, err error) bool {
	if ack {
		return true
	}
	if err == nil {
		c.log.WithField("op", op).Debug("📦 Server unreachable, change queued")
		return false
	}
	c.log.WithError(err).WithField("op", op).Warn("⚠️ Server did not accept change")
	c.bus.Publish(events.Notice{Message: fmt.Sprintf("Server did not accept %s update, it will be reconciled on the next sync", op)})
	return false
}
