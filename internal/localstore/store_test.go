package localstore

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/database"
	"fleetsync/internal/models"
)

func newRecords(t *testing.T) *database.Records {
	t.Helper()
	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return database.NewRecords(db)
}

func TestStore_PersistsAndReloads(t *testing.T) {
	logger, _ := test.NewNullLogger()
	records := newRecords(t)

	s := New(records, "fleetsync", logger)
	s.SetUsers([]models.User{{ID: "D1", Name: "Alice", FuelLevel: 40}}, OriginRemote)
	s.UpsertDriverLocation(models.DriverLocation{DriverID: "D1", Lat: 1, Lng: 2}, OriginLocal)
	s.AppendIssue(models.Issue{ID: "I1", DriverID: "D1", Type: "vehicle"}, OriginLocal)

	raw, ok, err := records.Load(context.Background(), "fleetsync:users")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"Alice"`)

	reloaded := New(records, "fleetsync", logger)
	require.NoError(t, reloaded.Load(context.Background()))
	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
}

func TestStore_LoadSkipsCorruptRecords(t *testing.T) {
	logger, hook := test.NewNullLogger()
	records := newRecords(t)
	ctx := context.Background()

	require.NoError(t, records.Save(ctx, "fleetsync:users", []byte(`{broken`)))
	require.NoError(t, records.Save(ctx, "fleetsync:bins", []byte(`[{"id":"B1","fill":10}]`)))

	s := New(records, "fleetsync", logger)
	require.NoError(t, s.Load(ctx))

	assert.Empty(t, s.Users())
	assert.Len(t, s.Bins(), 1)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "skipping corrupt local record", hook.LastEntry().Message)
}

func TestStore_ObserversRunInOrderWithOrigin(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(nil, "fleetsync", logger)

	var seen []string
	s.Observe(func(c Change) { seen = append(seen, "sync:"+c.Kind.String()+":"+c.Origin.String()) })
	s.Observe(func(c Change) { seen = append(seen, "ui:"+c.Kind.String()) })

	s.UpsertUser(models.User{ID: "D1"}, OriginTargeted)
	_, found := s.UpdateUser("missing", func(*models.User) {}, OriginLocal)

	assert.False(t, found)
	assert.Equal(t, []string{"sync:users:targeted", "ui:users"}, seen)
}

func TestStore_UpdateRoutesReportsChanged(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(nil, "fleetsync", logger)
	s.SetRoutes([]models.Route{
		{ID: "R1", DriverID: "D1", Status: models.RouteStatusActive},
		{ID: "R2", DriverID: "D2", Status: models.RouteStatusActive},
	}, OriginRemote)

	changed := s.UpdateRoutes(func(r *models.Route) bool {
		if r.DriverID != "D1" {
			return false
		}
		r.Status = models.RouteStatusCompleted
		return true
	}, OriginTargeted)

	require.Len(t, changed, 1)
	assert.Equal(t, "R1", changed[0].ID)
	assert.Equal(t, models.RouteStatusActive, s.Routes()[1].Status)
}

func TestStore_AccessorsReturnCopies(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(nil, "fleetsync", logger)
	s.SetRoutes([]models.Route{{ID: "R1", BinIDs: []string{"B1"}}}, OriginRemote)

	routes := s.Routes()
	routes[0].BinIDs[0] = "mutated"
	assert.Equal(t, "B1", s.Routes()[0].BinIDs[0])

	assert.Equal(t, "fleetsync:pendingSync", s.PendingKey())
	assert.Equal(t, "fleetsync:driverLocations", s.Key(models.KindDriverLocations))
}
