package models

import "encoding/json"

// UpdateType selects how POST /sync applies its payload
type UpdateType string

const (
	UpdateFull    UpdateType = "full"
	UpdatePartial UpdateType = "partial"
)

// SyncResponse is the body of GET /sync
type SyncResponse struct {
	Success   bool                       `json:"success"`
	Data      map[string]json.RawMessage `json:"data"`
	Timestamp string                     `json:"timestamp"`
}

// PushRequest is the body of POST /sync
type PushRequest struct {
	Data       map[string]json.RawMessage `json:"data" validate:"required"`
	UpdateType UpdateType                 `json:"updateType" validate:"required,oneof=full partial"`
	Timestamp  string                     `json:"timestamp,omitempty"`
}

// PushResponse is the reply to POST /sync
type PushResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// LocationUpdateRequest is the body of POST /driver/{id}/location
type LocationUpdateRequest struct {
	Lat       *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng       *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	Timestamp string   `json:"timestamp,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
	Speed     *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
}

// LocationUpdateResponse is the reply to POST /driver/{id}/location
type LocationUpdateResponse struct {
	Success  bool           `json:"success"`
	Location DriverLocation `json:"location"`
}

// StatusUpdateRequest is the body of POST /driver/{id}/status
type StatusUpdateRequest struct {
	MovementStatus MovementStatus `json:"movementStatus,omitempty"`
	Status         DriverStatus   `json:"status,omitempty"`
	Version        *int64         `json:"version,omitempty"`
}

// StatusUpdateResponse is the reply to POST /driver/{id}/status
type StatusUpdateResponse struct {
	Success        bool           `json:"success"`
	MovementStatus MovementStatus `json:"movementStatus"`
	Status         DriverStatus   `json:"status"`
	Timestamp      string         `json:"timestamp"`
	Version        int64          `json:"version,omitempty"`
}

// FuelUpdateRequest is the body of POST /driver/{id}/fuel
type FuelUpdateRequest struct {
	FuelLevel *float64 `json:"fuelLevel" validate:"required,gte=0,lte=100"`
	Version   *int64   `json:"version,omitempty"`
}

// FuelUpdateResponse is the reply to POST /driver/{id}/fuel
type FuelUpdateResponse struct {
	Success   bool    `json:"success"`
	FuelLevel float64 `json:"fuelLevel"`
	Timestamp string  `json:"timestamp"`
	Version   int64   `json:"version,omitempty"`
}

// RouteCompletionRequest is the body of POST /driver/{id}/route-completion
type RouteCompletionRequest struct {
	CompletionTime string         `json:"completionTime,omitempty"`
	Status         DriverStatus   `json:"status,omitempty"`
	MovementStatus MovementStatus `json:"movementStatus,omitempty"`
}

// RouteCompletionResponse is the reply to POST /driver/{id}/route-completion
type RouteCompletionResponse struct {
	Success bool    `json:"success"`
	Driver  User    `json:"driver"`
	Routes  []Route `json:"routes"`
}

// DriverResponse wraps a single driver
type DriverResponse struct {
	Success bool `json:"success"`
	Driver  User `json:"driver"`
}

// RouteResponse wraps a single route
type RouteResponse struct {
	Success bool  `json:"success"`
	Route   Route `json:"route"`
}

// DriverRoutesResponse is the reply to GET /driver/{id}/routes
type DriverRoutesResponse struct {
	Success bool    `json:"success"`
	Routes  []Route `json:"routes"`
}

// CollectionResponse wraps a single collection record
type CollectionResponse struct {
	Success    bool       `json:"success"`
	Collection Collection `json:"collection"`
}

// IssueResponse is the reply to POST /issues
type IssueResponse struct {
	Success bool  `json:"success"`
	Issue   Issue `json:"issue"`
	Alert   Alert `json:"alert"`
}

// ObservedLocation uses the observer-facing field names
type ObservedLocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// ObservedDriver is one entry of GET /driver/locations
type ObservedDriver struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Location       *ObservedLocation `json:"location"`
	LastUpdate     string            `json:"lastUpdate"`
	Status         DriverStatus      `json:"status"`
	MovementStatus MovementStatus    `json:"movementStatus,omitempty"`
}

// DriverLocationsResponse is the reply to GET /driver/locations
type DriverLocationsResponse struct {
	Success bool             `json:"success"`
	Drivers []ObservedDriver `json:"drivers"`
}

// HealthResponse is the reply to GET /health
type HealthResponse struct {
	Status           string         `json:"status"`
	Uptime           float64        `json:"uptime"`
	DataStatus       map[string]int `json:"dataStatus"`
	ConnectedClients int            `json:"connectedClients"`
	LastUpdate       string         `json:"lastUpdate,omitempty"`
}

// DiagnosticLog is the body of POST /logs/diagnostic, sent by agents to
// surface client-side trouble in the server log
type DiagnosticLog struct {
	Timestamp string         `json:"timestamp"`
	Context   string         `json:"context" validate:"required"`
	Level     string         `json:"level" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR"`
	Message   string         `json:"message" validate:"required"`
	ActorID   string         `json:"actorId,omitempty"`
	Platform  string         `json:"platform,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
