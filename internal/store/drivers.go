package store

import (
	"encoding/json"
	"fmt"

	"fleetsync/internal/geo"
	"fleetsync/internal/models"
)

// UpdateDriverLocation overwrites the driver's single location record. When the
// request carries no speed it is derived from the previous fix.
func (s *Store) UpdateDriverLocation(driverID string, req models.LocationUpdateRequest) (models.DriverLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findUser(driverID) < 0 {
		return models.DriverLocation{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	if req.Lat == nil || req.Lng == nil {
		return models.DriverLocation{}, fmt.Errorf("%w: lat/lng required", ErrInvalidField)
	}

	now := s.touch()
	loc := models.DriverLocation{
		DriverID:  driverID,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Timestamp: req.Timestamp,
		Accuracy:  req.Accuracy,
		Speed:     req.Speed,
	}
	if _, ok := models.ParseTime(loc.Timestamp); !ok {
		loc.Timestamp = models.FormatTime(now)
	}

	if prev, ok := s.snap.DriverLocations[driverID]; ok && loc.Speed == nil {
		prevAt, okPrev := models.ParseTime(prev.Timestamp)
		at, okNow := models.ParseTime(loc.Timestamp)
		if okPrev && okNow {
			if speed, ok := geo.SpeedMetersPerSecond(prev.Lat, prev.Lng, prevAt, loc.Lat, loc.Lng, at); ok {
				loc.Speed = &speed
			}
		}
	}

	if s.snap.DriverLocations == nil {
		s.snap.DriverLocations = map[string]models.DriverLocation{}
	}
	s.snap.DriverLocations[driverID] = loc
	return loc, nil
}

// UpdateDriverStatus sets movementStatus and/or status
func (s *Store) UpdateDriverStatus(driverID string, req models.StatusUpdateRequest) (models.User, error) {
	if req.MovementStatus != "" && !req.MovementStatus.Valid() {
		return models.User{}, fmt.Errorf("%w: movementStatus %q", ErrInvalidField, req.MovementStatus)
	}
	if req.Status != "" && !req.Status.Valid() {
		return models.User{}, fmt.Errorf("%w: status %q", ErrInvalidField, req.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findUser(driverID)
	if idx < 0 {
		return models.User{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	driver := &s.snap.Users[idx]
	if err := checkVersion(req.Version, driver.Version); err != nil {
		return models.User{}, err
	}

	stamp := models.FormatTime(s.touch())
	if req.MovementStatus != "" {
		driver.MovementStatus = req.MovementStatus
	}
	if req.Status != "" {
		driver.Status = req.Status
	}
	driver.LastStatusUpdate = stamp
	driver.LastUpdate = stamp
	driver.Version++
	return driver.Clone(), nil
}

// UpdateDriverFuel sets the fuel level, clamped to [0,100]
func (s *Store) UpdateDriverFuel(driverID string, level float64, version *int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findUser(driverID)
	if idx < 0 {
		return models.User{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	driver := &s.snap.Users[idx]
	if err := checkVersion(version, driver.Version); err != nil {
		return models.User{}, err
	}

	stamp := models.FormatTime(s.touch())
	driver.FuelLevel = models.ClampPercent(level)
	driver.LastFuelUpdate = stamp
	driver.LastUpdate = stamp
	driver.Version++
	return driver.Clone(), nil
}

// CompleteDriverRoutes is the route-completion cascade: the driver goes back to
// stationary and every live route of that driver is forced to completed, all
// under one lock.
func (s *Store) CompleteDriverRoutes(driverID string, req models.RouteCompletionRequest) (models.User, []models.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findUser(driverID)
	if idx < 0 {
		return models.User{}, nil, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}

	stamp := models.FormatTime(s.touch())
	completedAt := stamp
	if _, ok := models.ParseTime(req.CompletionTime); ok {
		completedAt = req.CompletionTime
	}

	driver := &s.snap.Users[idx]
	driver.MovementStatus = models.MovementStationary
	if req.Status.Valid() {
		driver.Status = req.Status
	}
	driver.LastStatusUpdate = stamp
	driver.LastUpdate = stamp
	driver.Version++

	var completed []models.Route
	for i := range s.snap.Routes {
		route := &s.snap.Routes[i]
		if route.DriverID != driverID || route.Status.Terminal() {
			continue
		}
		route.Status = models.RouteStatusCompleted
		route.CompletedAt = completedAt
		route.CompletedBy = driverID
		route.LastUpdate = stamp
		route.Version++
		completed = append(completed, route.Clone())
	}
	return driver.Clone(), completed, nil
}

var profileFields = map[string]bool{
	"username":         true,
	"name":             true,
	"role":             true,
	"status":           true,
	"movementStatus":   true,
	"fuelLevel":        true,
	"lastStatusUpdate": true,
	"lastFuelUpdate":   true,
}

// UpdateDriverProfile merges an arbitrary field map into the driver. Known
// fields land on the typed record, anything else goes into Profile. A numeric
// "version" key is treated as the expected version.
func (s *Store) UpdateDriverProfile(driverID string, fields map[string]any) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findUser(driverID)
	if idx < 0 {
		return models.User{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	current := s.snap.Users[idx]

	if v, ok := fields["version"].(float64); ok {
		expected := int64(v)
		if err := checkVersion(&expected, current.Version); err != nil {
			return models.User{}, err
		}
	}

	raw, err := json.Marshal(current)
	if err != nil {
		return models.User{}, fmt.Errorf("encode driver: %w", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return models.User{}, fmt.Errorf("decode driver: %w", err)
	}
	profile, _ := merged["profile"].(map[string]any)
	if profile == nil {
		profile = map[string]any{}
	}

	statusTouched, fuelTouched := false, false
	for key, value := range fields {
		switch {
		case key == "id" || key == "version" || key == "lastUpdate":
			continue
		case key == "profile":
			if extra, ok := value.(map[string]any); ok {
				for k, v := range extra {
					profile[k] = v
				}
			}
		case profileFields[key]:
			merged[key] = value
			statusTouched = statusTouched || key == "status" || key == "movementStatus"
			fuelTouched = fuelTouched || key == "fuelLevel"
		default:
			profile[key] = value
		}
	}
	if len(profile) > 0 {
		merged["profile"] = profile
	}

	raw, err = json.Marshal(merged)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	var updated models.User
	if err := json.Unmarshal(raw, &updated); err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	if updated.MovementStatus != "" && !updated.MovementStatus.Valid() {
		return models.User{}, fmt.Errorf("%w: movementStatus %q", ErrInvalidField, updated.MovementStatus)
	}
	if updated.Status != "" && !updated.Status.Valid() {
		return models.User{}, fmt.Errorf("%w: status %q", ErrInvalidField, updated.Status)
	}

	stamp := models.FormatTime(s.touch())
	updated.ID = current.ID
	updated.Normalize()
	if statusTouched {
		updated.LastStatusUpdate = stamp
	}
	if fuelTouched {
		updated.LastFuelUpdate = stamp
	}
	updated.LastUpdate = stamp
	updated.Version = current.Version + 1
	s.snap.Users[idx] = updated
	return updated.Clone(), nil
}

// ObservedDrivers lists every driver in the observer-facing location shape
func (s *Store) ObservedDrivers() []models.ObservedDriver {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drivers := make([]models.ObservedDriver, 0, len(s.snap.Users))
	for _, u := range s.snap.Users {
		if !u.IsDriver() {
			continue
		}
		entry := models.ObservedDriver{
			ID:             u.ID,
			Name:           u.Name,
			LastUpdate:     u.LastUpdate,
			Status:         u.Status,
			MovementStatus: u.MovementStatus,
		}
		if loc, ok := s.snap.DriverLocations[u.ID]; ok {
			entry.Location = &models.ObservedLocation{
				Latitude:  loc.Lat,
				Longitude: loc.Lng,
				Accuracy:  loc.Accuracy,
			}
			entry.LastUpdate = models.LatestStamp(u.LastUpdate, loc.Timestamp)
		}
		drivers = append(drivers, entry)
	}
	return drivers
}
