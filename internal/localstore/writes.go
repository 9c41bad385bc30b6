package localstore

import (
	"fleetsync/internal/models"
)

// Replace swaps in the listed collections of next wholesale
func (s *Store) Replace(next models.Snapshot, kinds []models.CollectionKind, origin Origin) {
	if len(kinds) == 0 {
		return
	}
	next = next.Clone()
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		for _, kind := range kinds {
			switch kind {
			case models.KindUsers:
				snap.Users = next.Users
			case models.KindBins:
				snap.Bins = next.Bins
			case models.KindRoutes:
				snap.Routes = next.Routes
			case models.KindCollections:
				snap.Collections = next.Collections
			case models.KindDriverLocations:
				snap.DriverLocations = next.DriverLocations
				if snap.DriverLocations == nil {
					snap.DriverLocations = map[string]models.DriverLocation{}
				}
			case models.KindIssues:
				snap.Issues = next.Issues
			case models.KindAlerts:
				snap.Alerts = next.Alerts
			case models.KindAnalytics:
				snap.Analytics = next.Analytics
				if snap.Analytics == nil {
					snap.Analytics = map[string]any{}
				}
			}
		}
		return kinds
	})
}

func (s *Store) SetUsers(users []models.User, origin Origin) {
	s.Replace(models.Snapshot{Users: users}, one(models.KindUsers), origin)
}

func (s *Store) SetBins(bins []models.Bin, origin Origin) {
	s.Replace(models.Snapshot{Bins: bins}, one(models.KindBins), origin)
}

func (s *Store) SetRoutes(routes []models.Route, origin Origin) {
	s.Replace(models.Snapshot{Routes: routes}, one(models.KindRoutes), origin)
}

func (s *Store) SetCollections(collections []models.Collection, origin Origin) {
	s.Replace(models.Snapshot{Collections: collections}, one(models.KindCollections), origin)
}

func (s *Store) SetDriverLocations(locations map[string]models.DriverLocation, origin Origin) {
	s.Replace(models.Snapshot{DriverLocations: locations}, one(models.KindDriverLocations), origin)
}

func (s *Store) SetIssues(issues []models.Issue, origin Origin) {
	s.Replace(models.Snapshot{Issues: issues}, one(models.KindIssues), origin)
}

func (s *Store) SetAlerts(alerts []models.Alert, origin Origin) {
	s.Replace(models.Snapshot{Alerts: alerts}, one(models.KindAlerts), origin)
}

func (s *Store) SetAnalytics(analytics map[string]any, origin Origin) {
	s.Replace(models.Snapshot{Analytics: analytics}, one(models.KindAnalytics), origin)
}

// UpsertUser inserts u or replaces the user with the same ID
func (s *Store) UpsertUser(u models.User, origin Origin) {
	u = u.Clone()
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		for i := range snap.Users {
			if snap.Users[i].ID == u.ID {
				snap.Users[i] = u
				return one(models.KindUsers)
			}
		}
		snap.Users = append(snap.Users, u)
		return one(models.KindUsers)
	})
}

// UpdateUser applies fn to the user with the given ID. It reports false, and
// writes nothing, when the user is unknown.
func (s *Store) UpdateUser(id string, fn func(*models.User), origin Origin) (models.User, bool) {
	var (
		updated models.User
		found   bool
	)
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		for i := range snap.Users {
			if snap.Users[i].ID == id {
				fn(&snap.Users[i])
				updated = snap.Users[i].Clone()
				found = true
				return one(models.KindUsers)
			}
		}
		return nil
	})
	return updated, found
}

// UpsertRoute inserts r or replaces the route with the same ID
func (s *Store) UpsertRoute(r models.Route, origin Origin) {
	r = r.Clone()
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		for i := range snap.Routes {
			if snap.Routes[i].ID == r.ID {
				snap.Routes[i] = r
				return one(models.KindRoutes)
			}
		}
		snap.Routes = append(snap.Routes, r)
		return one(models.KindRoutes)
	})
}

// UpdateRoutes applies fn to every route; fn reports whether it changed the
// route. Returns the changed routes.
func (s *Store) UpdateRoutes(fn func(*models.Route) bool, origin Origin) []models.Route {
	var changed []models.Route
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		for i := range snap.Routes {
			if fn(&snap.Routes[i]) {
				changed = append(changed, snap.Routes[i].Clone())
			}
		}
		if len(changed) == 0 {
			return nil
		}
		return one(models.KindRoutes)
	})
	return changed
}

// AppendCollection adds an immutable pickup record
func (s *Store) AppendCollection(c models.Collection, origin Origin) {
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		snap.Collections = append(snap.Collections, c)
		return one(models.KindCollections)
	})
}

// UpsertDriverLocation overwrites the driver's single location record
func (s *Store) UpsertDriverLocation(loc models.DriverLocation, origin Origin) {
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		if snap.DriverLocations == nil {
			snap.DriverLocations = map[string]models.DriverLocation{}
		}
		snap.DriverLocations[loc.DriverID] = loc
		return one(models.KindDriverLocations)
	})
}

// AppendIssue adds an immutable issue report
func (s *Store) AppendIssue(issue models.Issue, origin Origin) {
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		snap.Issues = append(snap.Issues, issue)
		return one(models.KindIssues)
	})
}

// AppendAlert adds an alert
func (s *Store) AppendAlert(alert models.Alert, origin Origin) {
	s.mutate(origin, func(snap *models.Snapshot) []models.CollectionKind {
		snap.Alerts = append(snap.Alerts, alert)
		return one(models.KindAlerts)
	})
}

// Apply runs fn against the live snapshot under the write lock. fn returns the
// collections it changed; those are persisted and announced.
func (s *Store) Apply(origin Origin, fn func(*models.Snapshot) []models.CollectionKind) {
	s.mutate(origin, fn)
}
