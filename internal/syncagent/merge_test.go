package syncagent

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/models"
)

func payload(t *testing.T, pairs map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(pairs))
	for k, v := range pairs {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = raw
	}
	return out
}

func newTestMerger() *Merger {
	logger, _ := test.NewNullLogger()
	return NewMerger(logger)
}

func userIDs(users []models.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

func TestMerge_UnionByIdentity(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{Users: []models.User{
		{ID: "A", Name: "v1"},
		{ID: "B", Name: "v1"},
	}}
	server := payload(t, map[string]any{"users": []models.User{
		{ID: "B", Name: "v2"},
		{ID: "C", Name: "v1"},
	}})

	res := m.Merge(&local, server)

	assert.Equal(t, []string{"A", "B", "C"}, userIDs(local.Users))
	assert.Equal(t, "v1", local.Users[0].Name)
	assert.Equal(t, "v2", local.Users[1].Name)
	assert.Equal(t, "v1", local.Users[2].Name)
	assert.Equal(t, []models.CollectionKind{models.KindUsers}, res.Changed)
	assert.False(t, res.PushUsers)
}

func TestMerge_Idempotent(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{
		Users:  []models.User{{ID: "A", FuelLevel: 10}, {ID: "B", FuelLevel: 20}},
		Routes: []models.Route{{ID: "R1", DriverID: "A", Status: models.RouteStatusActive}},
		Bins:   []models.Bin{{ID: "X1", Fill: 5}},
	}
	server := payload(t, map[string]any{
		"users":  []models.User{{ID: "B", FuelLevel: 25}, {ID: "C", FuelLevel: 30}},
		"routes": []models.Route{{ID: "R2", DriverID: "C", Status: models.RouteStatusPending}},
		"bins":   []models.Bin{{ID: "B1", Fill: 80}},
		"driverLocations": map[string]models.DriverLocation{
			"C": {DriverID: "C", Lat: 1, Lng: 2, Timestamp: "2025-03-01T08:00:00.000Z"},
		},
	})

	m.Merge(&local, server)
	once := local.Clone()

	res := m.Merge(&local, server)
	assert.Equal(t, once, local)
	assert.Empty(t, res.Changed)
	assert.Empty(t, res.Applied)
}

func TestMerge_EmptyServerUsersKeepsLocalAndAsksForPush(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{Users: []models.User{{ID: "A"}, {ID: "B"}, {ID: "C"}}}

	res := m.Merge(&local, payload(t, map[string]any{"users": []models.User{}}))

	assert.True(t, res.PushUsers)
	assert.Len(t, local.Users, 3)
	assert.Empty(t, res.Changed)
}

func TestMerge_DropsOnlyConfirmedLocalEntities(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{Routes: []models.Route{{ID: "R1"}, {ID: "R2"}}}

	m.Merge(&local, payload(t, map[string]any{"routes": []models.Route{{ID: "R1"}, {ID: "R2"}}}))
	local.Routes = append(local.Routes, models.Route{ID: "R3"})

	// R2 disappears server side; R3 was never confirmed
	m.Merge(&local, payload(t, map[string]any{"routes": []models.Route{{ID: "R1"}}}))

	ids := make([]string, 0, len(local.Routes))
	for _, r := range local.Routes {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"R1", "R3"}, ids)
}

func TestMerge_ConfirmPayloadMarksPushedEntities(t *testing.T) {
	m := newTestMerger()
	m.ConfirmPayload(payload(t, map[string]any{"issues": []models.Issue{{ID: "I1"}}}))

	assert.True(t, m.Known(models.KindIssues, "I1"))
	assert.False(t, m.Known(models.KindIssues, "I2"))
}

func TestMerge_UserNaturalKey(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{Users: []models.User{{ID: "tmp-1", Username: "bob", Name: "Bob"}}}

	m.Merge(&local, payload(t, map[string]any{"users": []models.User{{ID: "D7", Username: "bob", Name: "Bob B."}}}))

	require.Len(t, local.Users, 1)
	assert.Equal(t, "D7", local.Users[0].ID)
	assert.Equal(t, "Bob B.", local.Users[0].Name)
}

func TestMerge_NaturalKeyMatchReleasesLocalID(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{Users: []models.User{{ID: "tmp-1", Username: "alice", Name: "Alice"}}}

	m.Merge(&local, payload(t, map[string]any{"users": []models.User{
		{ID: "D1", Username: "alice", Name: "Alice"},
		{ID: "tmp-1", Username: "carol", Name: "Carol"},
	}}))

	assert.Equal(t, []string{"D1", "tmp-1"}, userIDs(local.Users))
	assert.Equal(t, "Alice", local.Users[0].Name)
	assert.Equal(t, "Carol", local.Users[1].Name)
}

func TestMerge_FresherLocalStatusAndFuelSurvive(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{Users: []models.User{{
		ID:               "D1",
		Name:             "Alice",
		MovementStatus:   models.MovementOnRoute,
		LastStatusUpdate: "2025-03-01T08:00:05.000Z",
		FuelLevel:        40,
		LastFuelUpdate:   "2025-03-01T07:00:00.000Z",
	}}}
	server := payload(t, map[string]any{"users": []models.User{{
		ID:               "D1",
		Name:             "Alice Smith",
		MovementStatus:   models.MovementStationary,
		LastStatusUpdate: "2025-03-01T08:00:00.000Z",
		FuelLevel:        70,
		LastFuelUpdate:   "2025-03-01T07:30:00.000Z",
	}}})

	m.Merge(&local, server)

	u := local.Users[0]
	assert.Equal(t, "Alice Smith", u.Name)
	assert.Equal(t, models.MovementOnRoute, u.MovementStatus)
	assert.Equal(t, 70.0, u.FuelLevel)
}

func TestMerge_LocallyCompletedRouteWins(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{Routes: []models.Route{{
		ID: "R1", Status: models.RouteStatusCompleted, LastUpdate: "2025-03-01T09:00:00.000Z",
	}}}
	server := payload(t, map[string]any{"routes": []models.Route{{
		ID: "R1", Status: models.RouteStatusInProgress, LastUpdate: "2025-03-01T08:00:00.000Z",
	}}})

	m.Merge(&local, server)
	assert.Equal(t, models.RouteStatusCompleted, local.Routes[0].Status)

	newer := payload(t, map[string]any{"routes": []models.Route{{
		ID: "R1", Status: models.RouteStatusInProgress, LastUpdate: "2025-03-01T10:00:00.000Z",
	}}})
	m.Merge(&local, newer)
	assert.Equal(t, models.RouteStatusInProgress, local.Routes[0].Status)
}

func TestMerge_ReplaceIfPresent(t *testing.T) {
	m := newTestMerger()
	local := models.Snapshot{
		Bins:      []models.Bin{{ID: "B1", Fill: 10}},
		Analytics: map[string]any{"total": 1.0},
	}

	m.Merge(&local, payload(t, map[string]any{
		"bins":      []models.Bin{},
		"analytics": map[string]any{"total": 2.0},
	}))

	assert.Equal(t, []models.Bin{{ID: "B1", Fill: 10}}, local.Bins)
	assert.Equal(t, 2.0, local.Analytics["total"])

	m.Merge(&local, payload(t, map[string]any{"bins": []models.Bin{{ID: "B9", Fill: 90}}}))
	assert.Equal(t, []models.Bin{{ID: "B9", Fill: 90}}, local.Bins)
}

func TestMerge_SkipsMissingAndUndecodableKeys(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := NewMerger(logger)
	local := models.Snapshot{
		Users:  []models.User{{ID: "A"}},
		Routes: []models.Route{{ID: "R1"}},
	}

	res := m.Merge(&local, map[string]json.RawMessage{
		"routes": json.RawMessage(`{"not":"a list"}`),
	})

	assert.Equal(t, []models.CollectionKind{models.KindRoutes}, res.Skipped)
	assert.Len(t, local.Users, 1)
	assert.Len(t, local.Routes, 1)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "Skipping undecodable collection")
}
