package syncagent

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"fleetsync/internal/fingerprint"
	"fleetsync/internal/models"
)

// Merger reconciles pulled collections with the local snapshot. It remembers
// which entity IDs the server has confirmed, either by returning them in a
// pull or by acknowledging a push that carried them; only those may be
// dropped locally when a later pull no longer lists them.
type Merger struct {
	mu    sync.Mutex
	known map[models.CollectionKind]map[string]bool
	log   logrus.FieldLogger
}

// MergeResult describes what a merge did to the local snapshot
type MergeResult struct {
	// Applied lists collections whose stored value differs after the merge
	Applied []models.CollectionKind
	// Changed lists collections whose fingerprint moved
	Changed []models.CollectionKind
	// Skipped lists collections present in the payload that failed to decode
	Skipped []models.CollectionKind
	// PushUsers is set when the server had no users but the client does
	PushUsers bool
}

func NewMerger(log logrus.FieldLogger) *Merger {
	return &Merger{
		known: make(map[models.CollectionKind]map[string]bool),
		log:   log,
	}
}

// Merge folds the server payload into local, one collection at a time.
// Collections missing from data are left alone.
func (m *Merger) Merge(local *models.Snapshot, data map[string]json.RawMessage) MergeResult {
	var res MergeResult

	for _, kind := range models.AllKinds {
		raw, ok := data[kind.String()]
		if !ok {
			continue
		}
		var server models.Snapshot
		if err := server.SetRaw(kind, raw); err != nil {
			m.log.WithError(err).WithField("kind", kind.String()).Warn("⚠️ Skipping undecodable collection in pull")
			res.Skipped = append(res.Skipped, kind)
			continue
		}

		beforeFP := fingerprint.Kind(*local, kind)
		beforeRaw, _ := json.Marshal(local.Value(kind))
		known := m.knownIDs(kind)

		switch kind {
		case models.KindUsers:
			if len(server.Users) == 0 && len(local.Users) > 0 {
				res.PushUsers = true
				continue
			}
			local.Users = unionByIdentity(local.Users, server.Users, known, resolveUser, userNaturalKey)
		case models.KindRoutes:
			local.Routes = unionByIdentity(local.Routes, server.Routes, known, resolveRoute, nil)
		case models.KindCollections:
			local.Collections = unionByIdentity(local.Collections, server.Collections, known, keepServer[models.Collection], nil)
		case models.KindIssues:
			local.Issues = unionByIdentity(local.Issues, server.Issues, known, keepServer[models.Issue], nil)
		case models.KindAlerts:
			local.Alerts = unionByIdentity(local.Alerts, server.Alerts, known, keepServer[models.Alert], nil)
		case models.KindBins:
			if len(server.Bins) > 0 {
				local.Bins = server.Bins
			}
		case models.KindDriverLocations:
			if len(server.DriverLocations) > 0 {
				local.DriverLocations = server.DriverLocations
			}
		case models.KindAnalytics:
			if len(server.Analytics) > 0 {
				local.Analytics = server.Analytics
			}
		}

		m.confirm(kind, server.Entities(kind))

		afterRaw, _ := json.Marshal(local.Value(kind))
		if !bytes.Equal(beforeRaw, afterRaw) {
			res.Applied = append(res.Applied, kind)
		}
		if fingerprint.Kind(*local, kind) != beforeFP {
			res.Changed = append(res.Changed, kind)
		}
	}
	return res
}

// ConfirmPayload records every entity carried by an acknowledged push
func (m *Merger) ConfirmPayload(data map[string]json.RawMessage) {
	for name, raw := range data {
		kind, ok := models.ParseKind(name)
		if !ok {
			continue
		}
		var scratch models.Snapshot
		if err := scratch.SetRaw(kind, raw); err != nil {
			continue
		}
		m.confirm(kind, scratch.Entities(kind))
	}
}

// Known reports whether the server has confirmed the entity
func (m *Merger) Known(kind models.CollectionKind, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known[kind][id]
}

func (m *Merger) confirm(kind models.CollectionKind, entities []models.Entity) {
	if len(entities) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.known[kind]
	if !ok {
		set = make(map[string]bool, len(entities))
		m.known[kind] = set
	}
	for _, e := range entities {
		set[e.EntityID()] = true
	}
}

func (m *Merger) knownIDs(kind models.CollectionKind) map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.known[kind]))
	for id := range m.known[kind] {
		out[id] = true
	}
	return out
}

// unionByIdentity keeps local order, overlays server entities matched by ID
// (or natural key) through resolve, appends server-only entities and drops
// local-only entities the server had confirmed before.
func unionByIdentity[T models.Entity](local, server []T, known map[string]bool, resolve func(local, server T) T, naturalKey func(T) string) []T {
	out := make([]T, len(local), len(local)+len(server))
	copy(out, local)

	byID := make(map[string]int, len(out))
	byKey := make(map[string]int)
	for i, e := range out {
		byID[e.EntityID()] = i
		if naturalKey != nil {
			if k := naturalKey(e); k != "" {
				byKey[k] = i
			}
		}
	}

	onServer := make(map[string]bool, len(server))
	for _, s := range server {
		onServer[s.EntityID()] = true

		i, found := byID[s.EntityID()]
		if !found && naturalKey != nil {
			if k := naturalKey(s); k != "" {
				i, found = byKey[k]
			}
		}
		if found {
			prevID := out[i].EntityID()
			onServer[prevID] = true
			out[i] = resolve(out[i], s)
			if id := out[i].EntityID(); id != prevID {
				// Matched by natural key; the local ID no longer lives here
				delete(byID, prevID)
				byID[id] = i
			}
			continue
		}

		byID[s.EntityID()] = len(out)
		out = append(out, s)
	}

	kept := out[:0]
	for _, e := range out {
		if !onServer[e.EntityID()] && known[e.EntityID()] {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func keepServer[T any](_, server T) T {
	return server
}

func userNaturalKey(u models.User) string {
	return u.Username
}

// resolveUser lets the server win except where the local copy carries a
// fresher status or fuel write that the server has not seen yet.
func resolveUser(local, server models.User) models.User {
	out := server.Clone()
	localWon := false
	if models.NewerThan(local.LastStatusUpdate, server.LastStatusUpdate) {
		out.MovementStatus = local.MovementStatus
		out.Status = local.Status
		out.LastStatusUpdate = local.LastStatusUpdate
		localWon = true
	}
	if models.NewerThan(local.LastFuelUpdate, server.LastFuelUpdate) {
		out.FuelLevel = local.FuelLevel
		out.LastFuelUpdate = local.LastFuelUpdate
		localWon = true
	}
	if localWon {
		out.LastUpdate = models.LatestStamp(out.LastUpdate, local.LastUpdate)
	}
	return out
}

// resolveRoute keeps a locally finished route over a stale live server copy
func resolveRoute(local, server models.Route) models.Route {
	if local.Status.Terminal() && !server.Status.Terminal() && models.NewerThan(local.Stamp(), server.Stamp()) {
		return local.Clone()
	}
	return server.Clone()
}
