package syncagent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/events"
	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
)

type pushCall struct {
	Data       map[string]json.RawMessage
	UpdateType models.UpdateType
}

// fakeAPI is a scripted server
type fakeAPI struct {
	mu       sync.Mutex
	data     map[string]json.RawMessage
	fetchErr error
	fetches  int
	pushErr  error
	pushes   []pushCall
	drivers  []models.ObservedDriver
	issueErr error
	statuses []models.StatusUpdateRequest

	// When set, FetchSync signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

var _ API = (*fakeAPI)(nil)

func (f *fakeAPI) FetchSync(ctx context.Context) (models.SyncResponse, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return models.SyncResponse{}, f.fetchErr
	}
	return models.SyncResponse{Success: true, Data: f.data}, nil
}

func (f *fakeAPI) PushSync(_ context.Context, data map[string]json.RawMessage, updateType models.UpdateType) (models.PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return models.PushResponse{}, f.pushErr
	}
	f.pushes = append(f.pushes, pushCall{Data: data, UpdateType: updateType})
	return models.PushResponse{Success: true}, nil
}

func (f *fakeAPI) UpdateLocation(_ context.Context, driverID string, req models.LocationUpdateRequest) (models.DriverLocation, error) {
	return models.DriverLocation{DriverID: driverID, Lat: *req.Lat, Lng: *req.Lng}, nil
}

func (f *fakeAPI) UpdateStatus(_ context.Context, _ string, req models.StatusUpdateRequest) (models.StatusUpdateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, req)
	return models.StatusUpdateResponse{Success: true, MovementStatus: req.MovementStatus, Status: req.Status}, nil
}

func (f *fakeAPI) UpdateFuel(_ context.Context, _ string, req models.FuelUpdateRequest) (models.FuelUpdateResponse, error) {
	return models.FuelUpdateResponse{Success: true, FuelLevel: *req.FuelLevel}, nil
}

func (f *fakeAPI) CompleteRoute(_ context.Context, driverID string, _ models.RouteCompletionRequest) (models.RouteCompletionResponse, error) {
	return models.RouteCompletionResponse{Success: true, Driver: models.User{ID: driverID}}, nil
}

func (f *fakeAPI) ReportIssue(_ context.Context, issue models.Issue) (models.IssueResponse, error) {
	if f.issueErr != nil {
		return models.IssueResponse{}, f.issueErr
	}
	return models.IssueResponse{Success: true, Issue: issue}, nil
}

func (f *fakeAPI) DriverLocations(context.Context) ([]models.ObservedDriver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers, nil
}

func (f *fakeAPI) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
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

func newTestAgent(t *testing.T, api API) (*Agent, *localstore.Store, *events.Recorder, *clock) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clk := newClock()
	st := localstore.New(nil, "fleetsync", logger)
	bus := events.NewBus()
	rec := events.Record(bus)
	a := New(st, api, bus, logger, Options{Clock: clk.Now})
	return a, st, rec, clk
}

func TestTick_SkipsUnchangedUntilStale(t *testing.T) {
	api := &fakeAPI{data: map[string]json.RawMessage{}}
	a, st, _, _ := newTestAgent(t, api)
	ctx := context.Background()

	assert.Equal(t, TickPulled, a.Tick(ctx))
	assert.Equal(t, TickUnchanged, a.Tick(ctx))
	assert.Equal(t, TickUnchanged, a.Tick(ctx))
	assert.Equal(t, TickUnchanged, a.Tick(ctx))
	assert.Equal(t, TickPulled, a.Tick(ctx), "staleness cap forces a pull")
	assert.Equal(t, 2, api.fetchCount())

	st.SetBins([]models.Bin{{ID: "B1", Fill: 10}}, localstore.OriginTargeted)
	assert.Equal(t, TickPulled, a.Tick(ctx), "local change triggers a pull")

	a.RequestSync()
	assert.Equal(t, TickPulled, a.Tick(ctx), "explicit request forces a pull")
	assert.Equal(t, TickUnchanged, a.Tick(ctx))
}

func TestTick_NeverOverlaps(t *testing.T) {
	api := &fakeAPI{
		data:    map[string]json.RawMessage{},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	a, _, _, _ := newTestAgent(t, api)
	ctx := context.Background()

	result := make(chan TickOutcome, 1)
	go func() { result <- a.Tick(ctx) }()

	<-api.entered
	assert.Equal(t, TickInFlight, a.Tick(ctx))
	close(api.release)

	assert.Equal(t, TickPulled, <-result)
	assert.Equal(t, 1, api.fetchCount())
}

func TestTick_FailuresRaiseOfflineWarningAndReset(t *testing.T) {
	api := &fakeAPI{fetchErr: &APIError{Status: http.StatusBadGateway, Path: "/sync"}}
	a, _, rec, _ := newTestAgent(t, api)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.Equal(t, TickFailed, a.Tick(ctx))
	}

	warnings := events.Of[events.OfflineWarning](rec)
	require.Len(t, warnings, 1)
	assert.Equal(t, 3, warnings[0].Failures)
	assert.Equal(t, events.HealthPoor, a.Health())

	api.mu.Lock()
	api.fetchErr = nil
	api.data = map[string]json.RawMessage{}
	api.mu.Unlock()

	assert.Equal(t, TickPulled, a.Tick(ctx))
	health := events.Of[events.HealthChanged](rec)
	require.Len(t, health, 2)
	assert.Equal(t, events.HealthPoor, health[0].Health)
	assert.Equal(t, events.HealthExcellent, health[1].Health)
}

func TestInterval_FollowsActivity(t *testing.T) {
	a, st, _, clk := newTestAgent(t, &fakeAPI{})

	assert.Equal(t, 30*time.Second, a.Interval())

	st.SetUsers([]models.User{{ID: "D1"}}, localstore.OriginTargeted)
	assert.Equal(t, 10*time.Second, a.Interval())

	clk.Advance(59 * time.Second)
	assert.Equal(t, 10*time.Second, a.Interval())

	clk.Advance(2 * time.Second)
	assert.Equal(t, 30*time.Second, a.Interval())

	st.SetBins([]models.Bin{{ID: "B1"}}, localstore.OriginRemote)
	assert.Equal(t, 30*time.Second, a.Interval(), "merged server data is not activity")
}

func TestLocalChange_QueuedAndFlushedAsPartialPush(t *testing.T) {
	api := &fakeAPI{}
	a, st, _, _ := newTestAgent(t, api)

	st.UpsertUser(models.User{ID: "D1", FuelLevel: 40}, localstore.OriginLocal)
	require.Equal(t, 1, a.Queue().Len())

	a.Flush(context.Background())

	require.Equal(t, 1, api.pushCount())
	assert.Equal(t, models.UpdatePartial, api.pushes[0].UpdateType)
	assert.JSONEq(t, `[{"id":"D1","fuelLevel":40}]`, string(api.pushes[0].Data["users"]))
	assert.Equal(t, 0, a.Queue().Len())
	assert.True(t, a.Merger().Known(models.KindUsers, "D1"))
}

func TestFirstSync_PushesFullStore(t *testing.T) {
	api := &fakeAPI{data: map[string]json.RawMessage{
		"users": json.RawMessage(`[{"id":"D2","fuelLevel":60}]`),
	}}
	a, st, _, _ := newTestAgent(t, api)
	st.SetUsers([]models.User{{ID: "D1", FuelLevel: 40}}, localstore.OriginRemote)
	st.SetBins([]models.Bin{{ID: "B1", Fill: 20}}, localstore.OriginRemote)

	require.Equal(t, TickPulled, a.Tick(context.Background()))

	require.Equal(t, 1, api.pushCount())
	push := api.pushes[0]
	assert.Equal(t, models.UpdateFull, push.UpdateType)
	assert.ElementsMatch(t, []string{"users", "bins"}, PendingPush{Data: push.Data}.Kinds())

	var users []models.User
	require.NoError(t, json.Unmarshal(push.Data["users"], &users))
	assert.Equal(t, []string{"D1", "D2"}, userIDs(users))
}

func TestEmptyServerUsers_LocalKeptAndPushed(t *testing.T) {
	api := &fakeAPI{data: map[string]json.RawMessage{"users": json.RawMessage(`[]`)}}
	a, st, _, _ := newTestAgent(t, api)
	ctx := context.Background()

	// First round establishes the session (full push)
	require.Equal(t, TickPulled, a.Tick(ctx))
	st.SetUsers([]models.User{{ID: "A"}, {ID: "B"}}, localstore.OriginRemote)
	a.RequestSync()

	require.Equal(t, TickPulled, a.Tick(ctx))

	assert.Len(t, st.Users(), 2)
	require.Equal(t, 1, api.pushCount())
	push := api.pushes[0]
	assert.Equal(t, models.UpdatePartial, push.UpdateType)
	assert.JSONEq(t, `[{"id":"A","fuelLevel":0},{"id":"B","fuelLevel":0}]`, string(push.Data["users"]))
}

func TestPull_PublishesDataChangedOnlyWhenSomethingMoved(t *testing.T) {
	api := &fakeAPI{data: map[string]json.RawMessage{
		"bins": json.RawMessage(`[{"id":"B1","fill":50,"status":"normal","lat":0,"lng":0}]`),
	}}
	a, st, rec, _ := newTestAgent(t, api)
	ctx := context.Background()

	a.Tick(ctx)
	a.RequestSync()
	a.Tick(ctx)

	changed := events.Of[events.DataChanged](rec)
	require.Len(t, changed, 1)
	assert.Equal(t, []models.CollectionKind{models.KindBins}, changed[0].Kinds)
	assert.Equal(t, "pull", changed[0].Source)
	assert.Len(t, st.Bins(), 1)
}

func TestTargeted_RetriableFailureQueuesPartialPush(t *testing.T) {
	api := &fakeAPI{issueErr: &APIError{Status: http.StatusServiceUnavailable, Path: "/issues"}}
	a, st, _, _ := newTestAgent(t, api)

	st.AppendIssue(models.Issue{ID: "I1", DriverID: "D1", Type: "vehicle"}, localstore.OriginTargeted)
	ack, err := a.SyncIssue(context.Background(), models.Issue{ID: "I1", DriverID: "D1", Type: "vehicle"})

	assert.False(t, ack)
	assert.NoError(t, err)
	items := a.Queue().Items()
	require.Len(t, items, 1)
	assert.Equal(t, []string{"issues"}, items[0].Kinds(), "empty collections are never pushed")
}

func TestTargeted_NotFoundIsReportedNotQueued(t *testing.T) {
	api := &fakeAPI{issueErr: &APIError{Status: http.StatusNotFound, Path: "/issues"}}
	a, _, _, _ := newTestAgent(t, api)

	ack, err := a.SyncIssue(context.Background(), models.Issue{ID: "I1", DriverID: "D404", Type: "vehicle"})

	assert.False(t, ack)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, 0, a.Queue().Len())
}

func TestSetOnline_PublishesEdgesOnly(t *testing.T) {
	a, _, rec, _ := newTestAgent(t, &fakeAPI{})

	a.SetOnline(true)
	a.SetOnline(false)
	a.SetOnline(false)
	a.SetOnline(true)

	edges := events.Of[events.OnlineChanged](rec)
	require.Len(t, edges, 2)
	assert.False(t, edges[0].Online)
	assert.True(t, edges[1].Online)
}

func TestPull_DrainsQueueWithoutPushChannel(t *testing.T) {
	api := &fakeAPI{data: map[string]json.RawMessage{}}
	a, st, rec, _ := newTestAgent(t, api)
	ctx := context.Background()

	// Push channel dropped, plain HTTP still works
	a.SetOnline(false)
	st.UpsertUser(models.User{ID: "D1", Name: "Alice", Role: models.RoleDriver}, localstore.OriginLocal)
	a.Flush(ctx)
	require.Equal(t, 0, api.pushCount())
	require.NotZero(t, a.Queue().Len())

	assert.Equal(t, TickPulled, a.Tick(ctx))
	assert.Equal(t, 0, a.Queue().Len())
	assert.NotZero(t, api.pushCount())
	assert.True(t, a.Online())

	edges := events.Of[events.OnlineChanged](rec)
	require.Len(t, edges, 2)
	assert.False(t, edges[0].Online)
	assert.True(t, edges[1].Online)
}

func TestPull_RetriableFailureGoesOffline(t *testing.T) {
	api := &fakeAPI{fetchErr: &APIError{Status: http.StatusServiceUnavailable, Path: "/sync"}}
	a, st, _, _ := newTestAgent(t, api)
	ctx := context.Background()

	assert.Equal(t, TickFailed, a.Tick(ctx))
	assert.False(t, a.Online())

	st.UpsertUser(models.User{ID: "D1", Name: "Alice", Role: models.RoleDriver}, localstore.OriginLocal)
	a.Flush(ctx)
	assert.Equal(t, 0, api.pushCount())

	api.mu.Lock()
	api.fetchErr = nil
	api.data = map[string]json.RawMessage{}
	api.mu.Unlock()

	assert.Equal(t, TickPulled, a.Tick(ctx))
	assert.True(t, a.Online())
	assert.Equal(t, 0, a.Queue().Len())
}
