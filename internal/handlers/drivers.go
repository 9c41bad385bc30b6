package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"fleetsync/internal/models"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
	"fleetsync/pkg/utils"
)

// UpdateDriverLocation overwrites the driver's latest GPS fix
func UpdateDriverLocation(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !canActFor(r, driverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var req models.LocationUpdateRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		loc, err := st.UpdateDriverLocation(driverID, req)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		log.WithFields(log.Fields{
			"driver_id": driverID,
			"lat":       loc.Lat,
			"lng":       loc.Lng,
		}).Debug("📍 Location updated")

		hub.BroadcastToRole(websocket.NewEnvelope(websocket.TypeDriverLocationUpdate, loc), models.RoleManager, models.RoleAdmin)
		hub.NotifySnapshotUpdated("driverLocations")

		utils.RespondJSON(w, http.StatusOK, models.LocationUpdateResponse{Success: true, Location: loc})
	}
}

// GetDriverLocations lists every driver with its last known position
func GetDriverLocations(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, models.DriverLocationsResponse{
			Success: true,
			Drivers: st.ObservedDrivers(),
		})
	}
}

// UpdateDriverStatus sets movementStatus and/or status. Values are validated
// but the movement state machine is enforced by the client.
func UpdateDriverStatus(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !canActFor(r, driverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var req models.StatusUpdateRequest
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.MovementStatus == "" && req.Status == "" {
			utils.RespondError(w, http.StatusBadRequest, "movementStatus or status is required")
			return
		}

		driver, err := st.UpdateDriverStatus(driverID, req)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		log.WithFields(log.Fields{
			"driver_id":       driverID,
			"movement_status": driver.MovementStatus,
			"status":          driver.Status,
		}).Info("🚦 Driver status updated")
		hub.NotifySnapshotUpdated("users")

		utils.RespondJSON(w, http.StatusOK, models.StatusUpdateResponse{
			Success:        true,
			MovementStatus: driver.MovementStatus,
			Status:         driver.Status,
			Timestamp:      driver.LastStatusUpdate,
			Version:        driver.Version,
		})
	}
}

// UpdateDriverFuel sets the driver's fuel level
func UpdateDriverFuel(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !canActFor(r, driverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var req models.FuelUpdateRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		driver, err := st.UpdateDriverFuel(driverID, *req.FuelLevel, req.Version)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		log.WithFields(log.Fields{
			"driver_id":  driverID,
			"fuel_level": driver.FuelLevel,
		}).Info("⛽ Fuel level updated")
		hub.NotifySnapshotUpdated("users")

		utils.RespondJSON(w, http.StatusOK, models.FuelUpdateResponse{
			Success:   true,
			FuelLevel: driver.FuelLevel,
			Timestamp: driver.LastFuelUpdate,
			Version:   driver.Version,
		})
	}
}

// CompleteDriverRoute ends the driver's route: the driver goes stationary and
// every live route assigned to them is completed in one step.
func CompleteDriverRoute(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !canActFor(r, driverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var req models.RouteCompletionRequest
		if r.ContentLength != 0 {
			if err := utils.DecodeJSON(r, &req); err != nil {
				utils.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		driver, routes, err := st.CompleteDriverRoutes(driverID, req)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if routes == nil {
			routes = []models.Route{}
		}

		log.WithFields(log.Fields{
			"driver_id":        driverID,
			"routes_completed": len(routes),
		}).Info("🏁 Route completed")
		hub.NotifySnapshotUpdated("routes")

		utils.RespondJSON(w, http.StatusOK, models.RouteCompletionResponse{
			Success: true,
			Driver:  driver,
			Routes:  routes,
		})
	}
}

// UpdateDriverProfile merges an arbitrary field map into the driver record
func UpdateDriverProfile(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driverID := chi.URLParam(r, "id")
		if !canActFor(r, driverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var fields map[string]any
		if err := utils.DecodeJSON(r, &fields); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(fields) == 0 {
			utils.RespondError(w, http.StatusBadRequest, "No fields to update")
			return
		}

		driver, err := st.UpdateDriverProfile(driverID, fields)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		log.WithField("driver_id", driverID).Info("✏️ Driver profile updated")
		hub.NotifySnapshotUpdated("users")

		utils.RespondJSON(w, http.StatusOK, models.DriverResponse{Success: true, Driver: driver})
	}
}

// GetDriverRoutes lists the driver's routes that are not completed
func GetDriverRoutes(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes, err := st.DriverRoutes(chi.URLParam(r, "id"))
		if err != nil {
			respondStoreError(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, models.DriverRoutesResponse{Success: true, Routes: routes})
	}
}

type fcmTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// RegisterFCMToken stores the device push token for a user
func RegisterFCMToken(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		if !canActFor(r, userID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		var req fcmTokenRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := st.RegisterFCMToken(userID, req.Token); err != nil {
			respondStoreError(w, err)
			return
		}

		log.WithField("user_id", userID).Info("📱 FCM token registered")
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}
