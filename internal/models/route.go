package models

import (
	"fmt"
	"sort"
	"strings"
)

// RouteStatus represents the lifecycle of a collection route
type RouteStatus string

const (
	RouteStatusPending    RouteStatus = "pending"     // Assigned, not started
	RouteStatusActive     RouteStatus = "active"      // Accepted by the driver
	RouteStatusInProgress RouteStatus = "in-progress" // Driver is collecting
	RouteStatusCompleted  RouteStatus = "completed"
	RouteStatusCancelled  RouteStatus = "cancelled"
)

var routeProgression = map[RouteStatus]int{
	RouteStatusPending:    0,
	RouteStatusActive:     1,
	RouteStatusInProgress: 2,
	RouteStatusCompleted:  3,
}

// Valid reports whether s is a known route status
func (s RouteStatus) Valid() bool {
	_, ok := routeProgression[s]
	return ok || s == RouteStatusCancelled
}

// Terminal reports whether no further transitions are allowed
func (s RouteStatus) Terminal() bool {
	return s == RouteStatusCompleted || s == RouteStatusCancelled
}

// CanTransitionTo allows staying put, moving one step forward along
// pending -> active -> in-progress -> completed, or cancelling a live route.
func (s RouteStatus) CanTransitionTo(next RouteStatus) bool {
	if s == next {
		return true
	}
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == RouteStatusCancelled {
		return true
	}
	return routeProgression[next] == routeProgression[s]+1
}

// Route is a set of bins assigned to one driver
type Route struct {
	ID          string      `json:"id"`
	DriverID    string      `json:"driverId"`
	BinIDs      []string    `json:"binIds"`
	Status      RouteStatus `json:"status"`
	AssignedBy  string      `json:"assignedBy,omitempty"`
	AssignedAt  string      `json:"assignedAt,omitempty"`
	CompletedAt string      `json:"completedAt,omitempty"`
	CompletedBy string      `json:"completedBy,omitempty"`
	LastUpdate  string      `json:"lastUpdate,omitempty"`
	Version     int64       `json:"version,omitempty"`
}

func (r Route) EntityID() string { return r.ID }

func (r Route) Stamp() string {
	return LatestStamp(r.LastUpdate, r.CompletedAt, r.AssignedAt)
}

func (r Route) VolatileFields() string {
	return fmt.Sprintf("%s|%s|%s|%s", r.Status, strings.Join(r.BinIDs, ","), r.CompletedAt, r.DriverID)
}

// Clone copies the bin set
func (r Route) Clone() Route {
	c := r
	c.BinIDs = append([]string(nil), r.BinIDs...)
	return c
}

// Normalize turns BinIDs into a sorted set and defaults the status
func (r *Route) Normalize() {
	if r.Status == "" {
		r.Status = RouteStatusPending
	}
	seen := make(map[string]bool, len(r.BinIDs))
	bins := make([]string, 0, len(r.BinIDs))
	for _, id := range r.BinIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		bins = append(bins, id)
	}
	sort.Strings(bins)
	r.BinIDs = bins
}
