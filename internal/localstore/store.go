// Package localstore holds the client's working copy of the operational
// snapshot. Every write is persisted per collection and then announced to an
// ordered list of observers.
package localstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetsync/internal/models"
)

// Origin says who caused a change, which decides what the sync side does with it
type Origin int

const (
	// OriginLocal is a user edit that still has to reach the server
	OriginLocal Origin = iota
	// OriginTargeted is a local edit whose caller performs its own targeted sync
	OriginTargeted
	// OriginRemote is the result of merging server data
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginTargeted:
		return "targeted"
	case OriginRemote:
		return "remote"
	}
	return "unknown"
}

// Change is delivered to observers after a write is applied and persisted
type Change struct {
	Kind   models.CollectionKind
	Origin Origin
}

// Observer is notified of every change, in registration order
type Observer func(Change)

// Persister is the durable medium behind the store
type Persister interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
	LoadPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	Delete(ctx context.Context, key string) error
}

const persistTimeout = 5 * time.Second

// Store is the Local Entity Store
type Store struct {
	mu        sync.RWMutex
	snap      models.Snapshot
	persister Persister
	prefix    string
	log       logrus.FieldLogger

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates an empty store. persister may be nil for a memory-only store.
func New(persister Persister, prefix string, log logrus.FieldLogger) *Store {
	return &Store{
		snap: models.Snapshot{
			DriverLocations: map[string]models.DriverLocation{},
			Analytics:       map[string]any{},
		},
		persister: persister,
		prefix:    strings.TrimSuffix(prefix, ":"),
		log:       log.WithField("component", "localstore"),
	}
}

// Key is the persistence key of a collection
func (s *Store) Key(kind models.CollectionKind) string {
	return s.prefix + ":" + kind.String()
}

// PendingKey is where the offline push queue is persisted
func (s *Store) PendingKey() string {
	return s.prefix + ":pendingSync"
}

// Persister exposes the durable medium for components that keep their own records
func (s *Store) Persister() Persister {
	return s.persister
}

// Observe appends fn to the observer list
func (s *Store) Observe(fn Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Load restores every collection from the persister. Corrupt records are
// skipped with a warning.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	records, err := s.persister.LoadPrefix(ctx, s.prefix+":")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range models.AllKinds {
		raw, ok := records[s.Key(kind)]
		if !ok {
			continue
		}
		if err := s.snap.SetRaw(kind, raw); err != nil {
			s.log.WithError(err).WithField("kind", kind.String()).Warn("skipping corrupt local record")
		}
	}
	if s.snap.DriverLocations == nil {
		s.snap.DriverLocations = map[string]models.DriverLocation{}
	}
	if s.snap.Analytics == nil {
		s.snap.Analytics = map[string]any{}
	}
	return nil
}

// Snapshot returns a deep copy of everything held locally
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Value returns a copy of one collection, ready for JSON encoding
func (s *Store) Value(kind models.CollectionKind) any {
	return s.Snapshot().Value(kind)
}

func (s *Store) Users() []models.User {
	return s.Snapshot().Users
}

func (s *Store) Bins() []models.Bin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Bin(nil), s.snap.Bins...)
}

func (s *Store) Routes() []models.Route {
	return s.Snapshot().Routes
}

func (s *Store) Collections() []models.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Collection(nil), s.snap.Collections...)
}

func (s *Store) DriverLocations() map[string]models.DriverLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneLocations(s.snap.DriverLocations)
}

func (s *Store) Issues() []models.Issue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Issue(nil), s.snap.Issues...)
}

func (s *Store) Alerts() []models.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Alert(nil), s.snap.Alerts...)
}

// User looks a user up by ID
func (s *Store) User(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.snap.Users {
		if u.ID == id {
			return u.Clone(), true
		}
	}
	return models.User{}, false
}

// DriverLocation returns the last fix recorded for a driver
func (s *Store) DriverLocation(driverID string) (models.DriverLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.snap.DriverLocations[driverID]
	return loc, ok
}

// mutate applies fn under the write lock, persists the touched collections
// and notifies observers once the lock is released.
func (s *Store) mutate(origin Origin, fn func(*models.Snapshot) []models.CollectionKind) {
	s.mu.Lock()
	kinds := fn(&s.snap)
	for _, kind := range kinds {
		s.persist(kind)
	}
	s.mu.Unlock()

	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, kind := range kinds {
		for _, observe := range observers {
			observe(Change{Kind: kind, Origin: origin})
		}
	}
}

// persist writes one collection; callers hold the write lock. A failed write
// leaves memory authoritative and is retried implicitly by the next write.
func (s *Store) persist(kind models.CollectionKind) {
	if s.persister == nil {
		return
	}
	raw, err := json.Marshal(s.snap.Value(kind))
	if err != nil {
		s.log.WithError(err).WithField("kind", kind.String()).Warn("failed to encode collection")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.Save(ctx, s.Key(kind), raw); err != nil {
		s.log.WithError(err).WithField("kind", kind.String()).Warn("failed to persist collection")
	}
}

func one(kind models.CollectionKind) []models.CollectionKind {
	return []models.CollectionKind{kind}
}
