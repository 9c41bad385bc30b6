package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/middleware"
	"fleetsync/internal/models"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
	"fleetsync/pkg/utils"
)

// UpsertRoute creates or updates a route. A non-zero version in the body must
// match the stored one.
func UpsertRoute(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var route models.Route
		if err := utils.DecodeJSON(r, &route); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if route.DriverID != "" && !canActFor(r, route.DriverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}
		if claims, ok := middleware.GetUserFromContext(r); ok && route.AssignedBy == "" {
			route.AssignedBy = claims.UserID
		}

		saved, err := st.UpsertRoute(route)
		if err != nil {
			log.WithError(err).WithField("route_id", route.ID).Warn("❌ Route upsert rejected")
			respondStoreError(w, err)
			return
		}

		log.WithFields(log.Fields{
			"route_id":  saved.ID,
			"driver_id": saved.DriverID,
			"status":    saved.Status,
			"version":   saved.Version,
		}).Info("🗺️ Route saved")
		hub.NotifySnapshotUpdated("routes")

		utils.RespondJSON(w, http.StatusOK, models.RouteResponse{Success: true, Route: saved})
	}
}
