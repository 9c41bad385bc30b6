package store

import (
	"fmt"

	"github.com/google/uuid"

	"fleetsync/internal/models"
)

// UpsertRoute creates a route or updates an existing one. Status changes must
// follow the route lifecycle, and a non-zero Version is the expected version.
func (s *Store) UpsertRoute(route models.Route) (models.Route, error) {
	route.Normalize()
	if !route.Status.Valid() {
		return models.Route{}, fmt.Errorf("%w: route status %q", ErrInvalidField, route.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := models.FormatTime(s.touch())
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	route.LastUpdate = stamp

	idx := s.findRoute(route.ID)
	if idx < 0 {
		if route.AssignedAt == "" {
			route.AssignedAt = stamp
		}
		if route.Status == models.RouteStatusCompleted && route.CompletedAt == "" {
			route.CompletedAt = stamp
		}
		route.Version = 1
		s.snap.Routes = append(s.snap.Routes, route)
		return route.Clone(), nil
	}

	current := s.snap.Routes[idx]
	if route.Version > 0 {
		if err := checkVersion(&route.Version, current.Version); err != nil {
			return models.Route{}, err
		}
	}
	if !current.Status.CanTransitionTo(route.Status) {
		return models.Route{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, route.Status)
	}
	if route.AssignedAt == "" {
		route.AssignedAt = current.AssignedAt
	}
	if route.Status == models.RouteStatusCompleted && route.CompletedAt == "" {
		route.CompletedAt = models.LatestStamp(current.CompletedAt, stamp)
	}
	route.Version = current.Version + 1
	s.snap.Routes[idx] = route
	return route.Clone(), nil
}

// DriverRoutes returns the driver's routes that are not yet completed
func (s *Store) DriverRoutes(driverID string) ([]models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.findUser(driverID) < 0 {
		return nil, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	routes := []models.Route{}
	for _, r := range s.snap.Routes {
		if r.DriverID == driverID && r.Status != models.RouteStatusCompleted {
			routes = append(routes, r.Clone())
		}
	}
	return routes, nil
}

// AppendCollection records a bin pickup. Collections are immutable, so a
// repeated ID is rejected.
func (s *Store) AppendCollection(c models.Collection) (models.Collection, error) {
	if c.Weight < 0 {
		return models.Collection{}, fmt.Errorf("%w: weight %v", ErrInvalidField, c.Weight)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	for _, existing := range s.snap.Collections {
		if existing.ID == c.ID {
			return models.Collection{}, fmt.Errorf("collection %s: %w", c.ID, ErrDuplicate)
		}
	}
	now := s.touch()
	if _, ok := models.ParseTime(c.Timestamp); !ok {
		c.Timestamp = models.FormatTime(now)
	}
	s.snap.Collections = append(s.snap.Collections, c)
	return c, nil
}

// AppendIssue records an issue and raises the matching manager alert
func (s *Store) AppendIssue(issue models.Issue) (models.Issue, models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	for _, existing := range s.snap.Issues {
		if existing.ID == issue.ID {
			return models.Issue{}, models.Alert{}, fmt.Errorf("issue %s: %w", issue.ID, ErrDuplicate)
		}
	}

	stamp := models.FormatTime(s.touch())
	if _, ok := models.ParseTime(issue.Timestamp); !ok {
		issue.Timestamp = stamp
	}
	if issue.Priority == "" {
		issue.Priority = models.PriorityMedium
	}
	if issue.Status == "" {
		issue.Status = "open"
	}
	s.snap.Issues = append(s.snap.Issues, issue)

	alert := models.AlertForIssue(issue, s.driverName(issue.DriverID))
	alert.Timestamp = stamp
	s.snap.Alerts = append(s.snap.Alerts, alert)
	return issue, alert, nil
}

func (s *Store) driverName(id string) string {
	if idx := s.findUser(id); idx >= 0 {
		return s.snap.Users[idx].Name
	}
	return ""
}
