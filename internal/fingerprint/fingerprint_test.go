package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetsync/internal/models"
)

func sampleSnapshot() models.Snapshot {
	return models.Snapshot{
		Users: []models.User{
			{ID: "D1", MovementStatus: models.MovementOnRoute, FuelLevel: 50, LastUpdate: "2025-03-01T08:00:00.000Z"},
			{ID: "D2", MovementStatus: models.MovementStationary, FuelLevel: 70, LastUpdate: "2025-03-01T08:00:00.000Z"},
		},
		Routes: []models.Route{
			{ID: "R1", DriverID: "D1", BinIDs: []string{"B1"}, Status: models.RouteStatusActive},
		},
		DriverLocations: map[string]models.DriverLocation{
			"D1": {DriverID: "D1", Lat: 1, Lng: 2, Timestamp: "2025-03-01T08:00:00.000Z"},
		},
		Analytics: map[string]any{"total": 3},
	}
}

func TestSnapshot_StableAcrossOrderAndCopies(t *testing.T) {
	a := sampleSnapshot()
	b := a.Clone()
	b.Users[0], b.Users[1] = b.Users[1], b.Users[0]

	assert.True(t, Snapshot(a).Equal(Snapshot(b)))
	assert.Equal(t, Snapshot(a), Snapshot(a))
}

func TestChanged_DetectsVolatileFields(t *testing.T) {
	before := sampleSnapshot()
	after := before.Clone()
	after.Users[0].FuelLevel = 49

	assert.Equal(t, []models.CollectionKind{models.KindUsers}, Changed(Snapshot(before), Snapshot(after)))

	after = before.Clone()
	loc := after.DriverLocations["D1"]
	loc.Lat = 1.0001
	after.DriverLocations["D1"] = loc
	after.Analytics["total"] = 4
	assert.Equal(t,
		[]models.CollectionKind{models.KindDriverLocations, models.KindAnalytics},
		Changed(Snapshot(before), Snapshot(after)))
}

func TestChanged_IgnoresNonVolatileFields(t *testing.T) {
	before := sampleSnapshot()
	after := before.Clone()
	after.Users[0].Username = "renamed"
	after.Routes[0].AssignedBy = "someone"

	assert.Empty(t, Changed(Snapshot(before), Snapshot(after)))
}

func TestEntity_Format(t *testing.T) {
	fp := Entity(models.Bin{ID: "B1", Fill: 10, Status: "normal", LastUpdate: "2025-03-01T08:00:00.000Z"})
	assert.Regexp(t, `^B1\|2025-03-01T08:00:00.000Z\|[0-9a-f]{8}$`, fp)
}

func TestValue_EmptyAnalytics(t *testing.T) {
	assert.Equal(t, "", Value(nil))
	assert.Equal(t, "", Value(map[string]any{}))
	assert.NotEqual(t, "", Value(map[string]any{"a": 1}))
}

func TestCollection_OrdersByID(t *testing.T) {
	short := models.Bin{ID: "a", LastUpdate: "2025-03-01T08:00:00.000Z"}
	long := models.Bin{ID: "a-b", LastUpdate: "2025-03-01T08:00:00.000Z"}

	got := Collection([]models.Entity{long, short})
	assert.Equal(t, Entity(short)+";"+Entity(long), got)
	assert.Equal(t, got, Collection([]models.Entity{short, long}))
}
