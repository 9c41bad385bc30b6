package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/events"
	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
	"fleetsync/internal/syncagent"
)

var _ Syncer = (*syncagent.Agent)(nil)

type fakeSyncer struct {
	mu          sync.Mutex
	ack         bool
	err         error
	statuses    []models.StatusUpdateRequest
	completions []models.RouteCompletionRequest
	fuel        []float64
	locations   []models.DriverLocation
	issues      []models.Issue
	requests    int

	// When set, SyncStatus signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{ack: true}
}

func (f *fakeSyncer) outcome() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ack, f.err
}

func (f *fakeSyncer) SyncStatus(_ context.Context, _ string, req models.StatusUpdateRequest) (bool, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	f.statuses = append(f.statuses, req)
	f.mu.Unlock()
	return f.outcome()
}

func (f *fakeSyncer) SyncFuel(_ context.Context, _ string, level float64) (bool, error) {
	f.mu.Lock()
	f.fuel = append(f.fuel, level)
	f.mu.Unlock()
	return f.outcome()
}

func (f *fakeSyncer) SyncRouteCompletion(_ context.Context, _ string, req models.RouteCompletionRequest) (bool, error) {
	f.mu.Lock()
	f.completions = append(f.completions, req)
	f.mu.Unlock()
	return f.outcome()
}

func (f *fakeSyncer) SyncLocation(_ context.Context, loc models.DriverLocation) (bool, error) {
	f.mu.Lock()
	f.locations = append(f.locations, loc)
	f.mu.Unlock()
	return f.outcome()
}

func (f *fakeSyncer) SyncIssue(_ context.Context, issue models.Issue) (bool, error) {
	f.mu.Lock()
	f.issues = append(f.issues, issue)
	f.mu.Unlock()
	return f.outcome()
}

func (f *fakeSyncer) RequestSync() {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctrl   *Controller
	store  *localstore.Store
	syncer *fakeSyncer
	rec    *events.Recorder
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	st := localstore.New(nil, "fleetsync", logger)
	bus := events.NewBus()
	clk := &clock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	syncer := newFakeSyncer()

	ctrl := New("D1", st, syncer, bus, logger, WithClock(clk.Now))
	_, err := ctrl.Login(context.Background(), models.User{Username: "alice", Name: "Alice"}, 52.52, 13.405)
	require.NoError(t, err)

	return &fixture{ctrl: ctrl, store: st, syncer: syncer, rec: events.Record(bus), clock: clk}
}

func (f *fixture) movement(t *testing.T) models.MovementStatus {
	t.Helper()
	u, err := f.ctrl.Driver()
	require.NoError(t, err)
	return u.MovementStatus
}

func TestLogin_SeedsDriverAndLocation(t *testing.T) {
	f := newFixture(t)

	u, err := f.ctrl.Driver()
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name)
	assert.Equal(t, models.RoleDriver, u.Role)
	assert.Equal(t, models.MovementStationary, u.MovementStatus)
	assert.Equal(t, models.DriverActive, u.Status)

	loc, ok := f.store.DriverLocation("D1")
	require.True(t, ok)
	assert.Equal(t, 52.52, loc.Lat)
	assert.Equal(t, "2025-03-01T08:00:00.000Z", loc.Timestamp)

	_, err = f.ctrl.Login(context.Background(), models.User{}, 91, 0)
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestToggleRoute_Debounce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.ctrl.ToggleRoute(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.MovementOnRoute, f.movement(t))

	f.clock.Advance(500 * time.Millisecond)
	ok, err = f.ctrl.ToggleRoute(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.MovementOnRoute, f.movement(t), "rejected toggle leaves state alone")
	notices := events.Of[events.Notice](f.rec)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Message, "Please wait")

	f.clock.Advance(2500 * time.Millisecond)
	ok, err = f.ctrl.ToggleRoute(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.MovementStationary, f.movement(t))
}

func TestToggleRoute_RejectedWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.syncer.entered = make(chan struct{})
	f.syncer.release = make(chan struct{})

	done := make(chan bool)
	go func() {
		ok, _ := f.ctrl.ToggleRoute(context.Background())
		done <- ok
	}()
	<-f.syncer.entered

	f.clock.Advance(10 * time.Second)
	ok, err := f.ctrl.ToggleRoute(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	close(f.syncer.release)
	assert.True(t, <-done)
	assert.Equal(t, models.MovementOnRoute, f.movement(t))
}

func TestToggleRoute_StartPublishesOptimisticThenConfirmed(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.ToggleRoute(context.Background())
	require.NoError(t, err)

	statuses := events.Of[events.StatusChanged](f.rec)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Confirmed)
	assert.True(t, statuses[1].Confirmed)
	assert.Equal(t, models.MovementOnRoute, statuses[0].MovementStatus)
	assert.Equal(t, []models.StatusUpdateRequest{{MovementStatus: models.MovementOnRoute}}, f.syncer.statuses)
	assert.Equal(t, 1, f.syncer.requests)
}

func TestToggleRoute_EndCompletesLiveRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, r := range []models.Route{
		{ID: "R1", DriverID: "D1", Status: models.RouteStatusActive},
		{ID: "R2", DriverID: "D1", Status: models.RouteStatusInProgress},
		{ID: "R3", DriverID: "D1", Status: models.RouteStatusCancelled},
		{ID: "R4", DriverID: "D2", Status: models.RouteStatusActive},
	} {
		f.store.UpsertRoute(r, localstore.OriginRemote)
	}

	_, err := f.ctrl.ToggleRoute(ctx)
	require.NoError(t, err)
	f.clock.Advance(5 * time.Second)
	_, err = f.ctrl.ToggleRoute(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.MovementStationary, f.movement(t))
	byID := make(map[string]models.Route)
	for _, r := range f.store.Routes() {
		byID[r.ID] = r
	}
	assert.Equal(t, models.RouteStatusCompleted, byID["R1"].Status)
	assert.Equal(t, models.RouteStatusCompleted, byID["R2"].Status)
	assert.Equal(t, "D1", byID["R2"].CompletedBy)
	assert.Equal(t, "2025-03-01T08:00:05.000Z", byID["R2"].CompletedAt)
	assert.Equal(t, models.RouteStatusCancelled, byID["R3"].Status)
	assert.Equal(t, models.RouteStatusActive, byID["R4"].Status)

	require.Len(t, f.syncer.completions, 1)
	assert.Equal(t, "2025-03-01T08:00:05.000Z", f.syncer.completions[0].CompletionTime)
	assert.Equal(t, models.MovementStationary, f.syncer.completions[0].MovementStatus)
}

func TestToggleRoute_UnacknowledgedStaysOptimistic(t *testing.T) {
	f := newFixture(t)
	f.syncer.ack = false

	ok, err := f.ctrl.ToggleRoute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, models.MovementOnRoute, f.movement(t), "no rollback on network failure")
	statuses := events.Of[events.StatusChanged](f.rec)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Confirmed)
	assert.Zero(t, f.syncer.requests)
	assert.Empty(t, events.Of[events.Notice](f.rec))
}

func TestToggleRoute_RejectionBecomesNotice(t *testing.T) {
	f := newFixture(t)
	f.syncer.ack = false
	f.syncer.err = &syncagent.APIError{Status: 404, Path: "/driver/D1/status", Message: "Driver not found"}

	ok, err := f.ctrl.ToggleRoute(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.MovementOnRoute, f.movement(t))
	assert.Len(t, events.Of[events.Notice](f.rec), 1)
}

func TestToggleRoute_IllegalFromBreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ctrl.TakeBreak(ctx))

	ok, err := f.ctrl.ToggleRoute(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	require.NoError(t, f.ctrl.EndBreak(ctx))
	ok, err = f.ctrl.ToggleRoute(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "an illegal toggle does not arm the debounce")
}

func TestShiftTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.ctrl.TakeBreak(ctx))
	assert.Equal(t, models.MovementOnBreak, f.movement(t))
	assert.ErrorIs(t, f.ctrl.GoOffDuty(ctx), ErrIllegalTransition)

	require.NoError(t, f.ctrl.EndBreak(ctx))
	require.NoError(t, f.ctrl.GoOffDuty(ctx))

	u, err := f.ctrl.Driver()
	require.NoError(t, err)
	assert.Equal(t, models.MovementOffDuty, u.MovementStatus)
	assert.Equal(t, models.DriverInactive, u.Status)

	assert.ErrorIs(t, f.ctrl.TakeBreak(ctx), ErrIllegalTransition)
	_, err = f.ctrl.ToggleRoute(ctx)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	last := f.syncer.statuses[len(f.syncer.statuses)-1]
	assert.Equal(t, models.StatusUpdateRequest{MovementStatus: models.MovementOffDuty, Status: models.DriverInactive}, last)
}

func TestUpdateFuel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, level := range []float64{150, -5} {
		assert.ErrorIs(t, f.ctrl.UpdateFuel(ctx, level), ErrInvalidFuelLevel)
	}
	assert.Empty(t, f.syncer.fuel)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.ctrl.UpdateFuel(ctx, 42.5))

	u, err := f.ctrl.Driver()
	require.NoError(t, err)
	assert.Equal(t, 42.5, u.FuelLevel)
	assert.Equal(t, "2025-03-01T08:01:00.000Z", u.LastFuelUpdate)
	assert.Equal(t, []float64{42.5}, f.syncer.fuel)
	assert.Equal(t, []events.FuelChanged{{DriverID: "D1", Level: 42.5}}, events.Of[events.FuelChanged](f.rec))
}

func TestUpdateFuel_UnknownDriver(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctrl := New("ghost", localstore.New(nil, "fleetsync", logger), newFakeSyncer(), events.NewBus(), logger)

	assert.ErrorIs(t, ctrl.UpdateFuel(context.Background(), 10), ErrUnknownDriver)
}

func TestReportIssue(t *testing.T) {
	f := newFixture(t)

	issue, err := f.ctrl.ReportIssue(context.Background(), "vehicle_breakdown", models.PriorityCritical, "flat tyre")
	require.NoError(t, err)
	assert.NotEmpty(t, issue.ID)
	assert.Equal(t, "D1", issue.DriverID)

	require.Len(t, f.store.Issues(), 1)
	alerts := f.store.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "alert-"+issue.ID, alerts[0].ID)
	assert.Equal(t, models.PriorityCritical, alerts[0].Priority)
	assert.Contains(t, alerts[0].Message, "Alice")

	raised := events.Of[events.AlertRaised](f.rec)
	require.Len(t, raised, 1)
	assert.Equal(t, alerts[0].ID, raised[0].Alert.ID)
	assert.Equal(t, []models.Issue{issue}, f.syncer.issues)
}

func TestReportIssue_DefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue, err := f.ctrl.ReportIssue(ctx, "bin_damaged", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, issue.Priority)
	assert.Equal(t, models.PriorityHigh, f.store.Alerts()[0].Priority)

	_, err = f.ctrl.ReportIssue(ctx, "", models.PriorityLow, "")
	assert.ErrorIs(t, err, ErrInvalidIssue)
	_, err = f.ctrl.ReportIssue(ctx, "road_blocked", "urgent", "")
	assert.ErrorIs(t, err, ErrInvalidIssue)
	assert.Len(t, f.store.Issues(), 1)
}

func TestUpdateLocation_DerivesSpeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// About 100 m north of the login fix
	f.clock.Advance(10 * time.Second)
	loc, err := f.ctrl.UpdateLocation(ctx, 52.5209, 13.405, nil)
	require.NoError(t, err)
	require.NotNil(t, loc.Speed)
	assert.InDelta(t, 10.0, *loc.Speed, 0.2)

	stored, ok := f.store.DriverLocation("D1")
	require.True(t, ok)
	assert.Equal(t, loc, stored)
	assert.Equal(t, []models.DriverLocation{loc}, f.syncer.locations)

	// Same instant: no elapsed time, no speed
	loc, err = f.ctrl.UpdateLocation(ctx, 52.521, 13.405, nil)
	require.NoError(t, err)
	assert.Nil(t, loc.Speed)

	accuracy := -1.0
	_, err = f.ctrl.UpdateLocation(ctx, 52.5, 13.4, &accuracy)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = f.ctrl.UpdateLocation(ctx, 0, 181, nil)
	assert.True(t, errors.Is(err, ErrInvalidLocation))
}
