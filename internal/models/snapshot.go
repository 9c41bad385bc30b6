package models

import (
	"encoding/json"
	"fmt"
)

// CollectionKind enumerates the entity collections that make up a snapshot
type CollectionKind int

const (
	KindUsers CollectionKind = iota
	KindBins
	KindRoutes
	KindCollections
	KindDriverLocations
	KindIssues
	KindAlerts
	KindAnalytics
)

// AllKinds lists every collection in wire order
var AllKinds = []CollectionKind{
	KindUsers, KindBins, KindRoutes, KindCollections,
	KindDriverLocations, KindIssues, KindAlerts, KindAnalytics,
}

var kindNames = map[CollectionKind]string{
	KindUsers:           "users",
	KindBins:            "bins",
	KindRoutes:          "routes",
	KindCollections:     "collections",
	KindDriverLocations: "driverLocations",
	KindIssues:          "issues",
	KindAlerts:          "alerts",
	KindAnalytics:       "analytics",
}

// String returns the wire / persistence name of the collection
func (k CollectionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name back to its kind
func ParseKind(name string) (CollectionKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// MergeStrategy selects how a pulled collection is reconciled with the local one
type MergeStrategy int

const (
	// UnionByIdentity overlays server entities onto local ones by ID, keeping local-only entities
	UnionByIdentity MergeStrategy = iota
	// ReplaceIfPresent adopts the server value when it is non-empty
	ReplaceIfPresent
)

// Strategy returns the merge strategy for k
func (k CollectionKind) Strategy() MergeStrategy {
	switch k {
	case KindUsers, KindRoutes, KindCollections, KindIssues, KindAlerts:
		return UnionByIdentity
	case KindBins, KindDriverLocations, KindAnalytics:
		return ReplaceIfPresent
	default:
		panic(fmt.Sprintf("models: no merge strategy for %v", k))
	}
}

// Entity is implemented by every element type stored in a collection
type Entity interface {
	EntityID() string
	// Stamp is the lastUpdate-or-timestamp used for change detection
	Stamp() string
	// VolatileFields is a canonical rendering of the fields that change often
	VolatileFields() string
}

// Snapshot is the complete operational state, on either side of the wire
type Snapshot struct {
	Users           []User                    `json:"users"`
	Bins            []Bin                     `json:"bins"`
	Routes          []Route                   `json:"routes"`
	Collections     []Collection              `json:"collections"`
	DriverLocations map[string]DriverLocation `json:"driverLocations"`
	Issues          []Issue                   `json:"issues"`
	Alerts          []Alert                   `json:"alerts"`
	Analytics       map[string]any            `json:"analytics"`
}

// Clone deep-copies the snapshot's collections
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Bins:            append([]Bin(nil), s.Bins...),
		Collections:     append([]Collection(nil), s.Collections...),
		DriverLocations: CloneLocations(s.DriverLocations),
		Issues:          append([]Issue(nil), s.Issues...),
		Alerts:          append([]Alert(nil), s.Alerts...),
		Analytics:       cloneAny(s.Analytics),
	}
	if s.Users != nil {
		out.Users = make([]User, len(s.Users))
		for i, u := range s.Users {
			out.Users[i] = u.Clone()
		}
	}
	if s.Routes != nil {
		out.Routes = make([]Route, len(s.Routes))
		for i, r := range s.Routes {
			out.Routes[i] = r.Clone()
		}
	}
	return out
}

// Value returns the collection for kind as a JSON-encodable value
func (s Snapshot) Value(kind CollectionKind) any {
	switch kind {
	case KindUsers:
		return s.Users
	case KindBins:
		return s.Bins
	case KindRoutes:
		return s.Routes
	case KindCollections:
		return s.Collections
	case KindDriverLocations:
		return s.DriverLocations
	case KindIssues:
		return s.Issues
	case KindAlerts:
		return s.Alerts
	case KindAnalytics:
		return s.Analytics
	}
	return nil
}

// Count returns the number of entities held for kind
func (s Snapshot) Count(kind CollectionKind) int {
	switch kind {
	case KindUsers:
		return len(s.Users)
	case KindBins:
		return len(s.Bins)
	case KindRoutes:
		return len(s.Routes)
	case KindCollections:
		return len(s.Collections)
	case KindDriverLocations:
		return len(s.DriverLocations)
	case KindIssues:
		return len(s.Issues)
	case KindAlerts:
		return len(s.Alerts)
	case KindAnalytics:
		return len(s.Analytics)
	}
	return 0
}

// SetRaw decodes raw into the collection for kind, replacing it wholesale.
// On error the snapshot is left untouched.
func (s *Snapshot) SetRaw(kind CollectionKind, raw json.RawMessage) error {
	var err error
	switch kind {
	case KindUsers:
		var v []User
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Users = v
		}
	case KindBins:
		var v []Bin
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Bins = v
		}
	case KindRoutes:
		var v []Route
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Routes = v
		}
	case KindCollections:
		var v []Collection
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Collections = v
		}
	case KindDriverLocations:
		var v map[string]DriverLocation
		if err = json.Unmarshal(raw, &v); err == nil {
			s.DriverLocations = v
		}
	case KindIssues:
		var v []Issue
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Issues = v
		}
	case KindAlerts:
		var v []Alert
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Alerts = v
		}
	case KindAnalytics:
		var v map[string]any
		if err = json.Unmarshal(raw, &v); err == nil {
			s.Analytics = v
		}
	default:
		return fmt.Errorf("unknown collection %v", kind)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}

// Entities returns the collection for kind as a slice of Entity.
// Analytics has no entities and returns nil.
func (s Snapshot) Entities(kind CollectionKind) []Entity {
	switch kind {
	case KindUsers:
		return toEntities(s.Users)
	case KindBins:
		return toEntities(s.Bins)
	case KindRoutes:
		return toEntities(s.Routes)
	case KindCollections:
		return toEntities(s.Collections)
	case KindDriverLocations:
		return toEntities(LocationMap(s.DriverLocations))
	case KindIssues:
		return toEntities(s.Issues)
	case KindAlerts:
		return toEntities(s.Alerts)
	}
	return nil
}

func toEntities[T Entity](items []T) []Entity {
	out := make([]Entity, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func cloneAny(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
