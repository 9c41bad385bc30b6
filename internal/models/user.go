package models

import (
	"fmt"
	"strconv"
)

// MovementStatus is the driver's position in the shift state machine
type MovementStatus string

const (
	MovementStationary MovementStatus = "stationary" // Initial state
	MovementOnRoute    MovementStatus = "on-route"
	MovementOnBreak    MovementStatus = "on-break"
	MovementOffDuty    MovementStatus = "off-duty" // Terminal for the shift
)

var movementTransitions = map[MovementStatus][]MovementStatus{
	MovementStationary: {MovementOnRoute, MovementOnBreak, MovementOffDuty},
	MovementOnRoute:    {MovementStationary},
	MovementOnBreak:    {MovementStationary},
	MovementOffDuty:    {},
}

// Valid reports whether s is one of the four legal movement states
func (s MovementStatus) Valid() bool {
	_, ok := movementTransitions[s]
	return ok
}

// CanTransitionTo reports whether the state machine allows s -> next
func (s MovementStatus) CanTransitionTo(next MovementStatus) bool {
	for _, allowed := range movementTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DriverStatus is the availability of a driver for dispatch
type DriverStatus string

const (
	DriverActive    DriverStatus = "active"
	DriverAvailable DriverStatus = "available"
	DriverInactive  DriverStatus = "inactive"
)

// Valid reports whether s is a known availability status
func (s DriverStatus) Valid() bool {
	switch s {
	case DriverActive, DriverAvailable, DriverInactive:
		return true
	}
	return false
}

const (
	RoleDriver  = "driver"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// User is any actor known to the dashboard. Drivers are users with role "driver"
// and carry the movement/fuel fields.
type User struct {
	ID               string         `json:"id"`
	Username         string         `json:"username,omitempty"`
	Name             string         `json:"name,omitempty"`
	Role             string         `json:"role,omitempty"`
	Status           DriverStatus   `json:"status,omitempty"`
	MovementStatus   MovementStatus `json:"movementStatus,omitempty"`
	FuelLevel        float64        `json:"fuelLevel"`
	LastStatusUpdate string         `json:"lastStatusUpdate,omitempty"`
	LastFuelUpdate   string         `json:"lastFuelUpdate,omitempty"`
	LastUpdate       string         `json:"lastUpdate,omitempty"`
	Version          int64          `json:"version,omitempty"`
	Profile          map[string]any `json:"profile,omitempty"` // Free-form profile fields (phone, vehicle, ...)
}

func (u User) EntityID() string { return u.ID }

func (u User) Stamp() string {
	return LatestStamp(u.LastUpdate, u.LastStatusUpdate, u.LastFuelUpdate)
}

func (u User) VolatileFields() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		u.MovementStatus, u.Status, strconv.FormatFloat(u.FuelLevel, 'f', -1, 64), u.Name, u.Role)
}

// IsDriver reports whether the user participates in the driver state machine
func (u User) IsDriver() bool {
	return u.Role == RoleDriver || u.Role == ""
}

// Clone returns a copy that shares no mutable state with u
func (u User) Clone() User {
	c := u
	if u.Profile != nil {
		c.Profile = make(map[string]any, len(u.Profile))
		for k, v := range u.Profile {
			c.Profile[k] = v
		}
	}
	return c
}

// Normalize clamps numeric fields and fills defaults
func (u *User) Normalize() {
	u.FuelLevel = ClampPercent(u.FuelLevel)
	if u.IsDriver() && u.MovementStatus == "" {
		u.MovementStatus = MovementStationary
	}
}
