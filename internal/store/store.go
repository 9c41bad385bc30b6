package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleetsync/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicate         = errors.New("already exists")
	ErrInvalidUpdateType = errors.New("invalid update type")
	ErrInvalidField      = errors.New("invalid field")
)

// Store is the single authoritative in-memory snapshot. Every exported method
// takes the lock for its whole duration, so multi-entity effects are atomic.
type Store struct {
	mu           sync.RWMutex
	snap         models.Snapshot
	extra        map[string]json.RawMessage // top-level keys we do not model
	fcmTokens    map[string]string          // userID -> FCM token
	lastUpdate   time.Time
	lastFullSync time.Time
	startedAt    time.Time
	now          func() time.Time
}

// New creates an empty store
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty store that reads time from now
func NewWithClock(now func() time.Time) *Store {
	s := &Store{
		snap: models.Snapshot{
			Users:           []models.User{},
			Bins:            []models.Bin{},
			Routes:          []models.Route{},
			Collections:     []models.Collection{},
			DriverLocations: map[string]models.DriverLocation{},
			Issues:          []models.Issue{},
			Alerts:          []models.Alert{},
			Analytics:       map[string]any{},
		},
		extra:     map[string]json.RawMessage{},
		fcmTokens: map[string]string{},
		now:       now,
	}
	s.startedAt = now()
	s.lastUpdate = s.startedAt
	return s
}

// SyncData encodes the entire store, one raw value per top-level key
func (s *Store) SyncData() (map[string]json.RawMessage, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := make(map[string]json.RawMessage, len(models.AllKinds)+len(s.extra))
	for key, raw := range s.extra {
		data[key] = raw
	}
	for _, kind := range models.AllKinds {
		raw, err := json.Marshal(s.snap.Value(kind))
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("encode %s: %w", kind, err)
		}
		data[kind.String()] = raw
	}
	return data, s.lastUpdate, nil
}

// Snapshot returns a deep copy of the modelled collections
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// ApplyUpdate applies a POST /sync payload. Both update types replace each
// listed key wholesale (no deep merge); "full" also stamps lastFullSync.
// Nothing is applied when any key fails to decode.
func (s *Store) ApplyUpdate(data map[string]json.RawMessage, updateType models.UpdateType) (time.Time, error) {
	if updateType != models.UpdateFull && updateType != models.UpdatePartial {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidUpdateType, updateType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := s.snap
	extra := make(map[string]json.RawMessage)
	for key, raw := range data {
		kind, ok := models.ParseKind(key)
		if !ok {
			extra[key] = raw
			continue
		}
		if err := next.SetRaw(kind, raw); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		if err := s.normalizeKind(&next, kind); err != nil {
			return time.Time{}, err
		}
	}

	s.snap = next
	for key, raw := range extra {
		s.extra[key] = raw
	}
	if updateType == models.UpdateFull {
		s.lastFullSync = now
	}
	s.lastUpdate = now
	return now, nil
}

// normalizeKind enforces invariants on a freshly replaced collection and
// carries server-side version counters across the replacement. Routes that
// are already completed or cancelled keep their terminal state.
func (s *Store) normalizeKind(next *models.Snapshot, kind models.CollectionKind) error {
	switch kind {
	case models.KindUsers:
		if next.Users == nil {
			next.Users = []models.User{}
		}
		prev := make(map[string]models.User, len(s.snap.Users))
		for _, u := range s.snap.Users {
			prev[u.ID] = u
		}
		for i := range next.Users {
			u := &next.Users[i]
			if u.ID == "" {
				return fmt.Errorf("%w: user without id", ErrInvalidField)
			}
			if u.MovementStatus != "" && !u.MovementStatus.Valid() {
				return fmt.Errorf("%w: movementStatus %q", ErrInvalidField, u.MovementStatus)
			}
			if u.Status != "" && !u.Status.Valid() {
				return fmt.Errorf("%w: status %q", ErrInvalidField, u.Status)
			}
			u.Normalize()
			u.Version = nextVersion(prev[u.ID].Version, u.Version, sameEntity(prev[u.ID], *u))
		}
	case models.KindRoutes:
		if next.Routes == nil {
			next.Routes = []models.Route{}
		}
		prev := make(map[string]models.Route, len(s.snap.Routes))
		for _, r := range s.snap.Routes {
			prev[r.ID] = r
		}
		for i := range next.Routes {
			r := &next.Routes[i]
			if r.ID == "" {
				return fmt.Errorf("%w: route without id", ErrInvalidField)
			}
			r.Normalize()
			if !r.Status.Valid() {
				return fmt.Errorf("%w: route status %q", ErrInvalidField, r.Status)
			}
			if old, ok := prev[r.ID]; ok && old.Status.Terminal() {
				// A stale copy cannot reopen a finished route
				if r.Status != old.Status {
					*r = old.Clone()
					continue
				}
				if r.CompletedAt == "" {
					r.CompletedAt = old.CompletedAt
				}
				if r.CompletedBy == "" {
					r.CompletedBy = old.CompletedBy
				}
			}
			r.Version = nextVersion(prev[r.ID].Version, r.Version, sameEntity(prev[r.ID], *r))
		}
	case models.KindBins:
		for i := range next.Bins {
			next.Bins[i].Normalize()
		}
	case models.KindDriverLocations:
		if next.DriverLocations == nil {
			next.DriverLocations = map[string]models.DriverLocation{}
		}
		for id, loc := range next.DriverLocations {
			if loc.DriverID == "" {
				loc.DriverID = id
				next.DriverLocations[id] = loc
			}
		}
	}
	return nil
}

func sameEntity(prev, next models.Entity) bool {
	if prev.EntityID() == "" {
		return false
	}
	return prev.Stamp() == next.Stamp() && prev.VolatileFields() == next.VolatileFields()
}

func nextVersion(existing, incoming int64, unchanged bool) int64 {
	if existing == 0 {
		if incoming > 0 {
			return incoming
		}
		return 1
	}
	if unchanged {
		return existing
	}
	return existing + 1
}

// touch records a mutation; callers hold the write lock
func (s *Store) touch() time.Time {
	now := s.now()
	s.lastUpdate = now
	return now
}

// Counts reports the size of every collection, keyed by wire name
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(models.AllKinds)+len(s.extra))
	for _, kind := range models.AllKinds {
		counts[kind.String()] = s.snap.Count(kind)
	}
	for key := range s.extra {
		counts[key] = 1
	}
	return counts
}

// LastUpdate returns the time of the most recent mutation
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// LastFullSync returns when a full update was last applied (zero if never)
func (s *Store) LastFullSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFullSync
}

// Uptime returns how long the store has existed
func (s *Store) Uptime() time.Duration {
	return s.now().Sub(s.startedAt)
}

// RegisterFCMToken records the push token for a known user
func (s *Store) RegisterFCMToken(userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findUser(userID) < 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	s.fcmTokens[userID] = token
	return nil
}

// TokensForRoles returns FCM tokens of users holding any of roles
func (s *Store) TokensForRoles(roles ...string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []string
	for _, u := range s.snap.Users {
		for _, role := range roles {
			if u.Role == role {
				if token, ok := s.fcmTokens[u.ID]; ok {
					tokens = append(tokens, token)
				}
				break
			}
		}
	}
	return tokens
}

// FindUserByUsername looks a user up by natural key
func (s *Store) FindUserByUsername(username string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.snap.Users {
		if u.Username == username {
			return u.Clone(), true
		}
	}
	return models.User{}, false
}

func (s *Store) findUser(id string) int {
	for i, u := range s.snap.Users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) findRoute(id string) int {
	for i, r := range s.snap.Routes {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func checkVersion(expected *int64, current int64) error {
	if expected != nil && *expected != current {
		return fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, *expected, current)
	}
	return nil
}
