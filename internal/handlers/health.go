package handlers

import (
	"net/http"

	"fleetsync/internal/models"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
	"fleetsync/pkg/utils"
)

// Health reports uptime, collection sizes and connected websocket clients
func Health(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := models.HealthResponse{
			Status:           "healthy",
			Uptime:           st.Uptime().Seconds(),
			DataStatus:       st.Counts(),
			ConnectedClients: hub.GetClientCount(),
			LastUpdate:       models.FormatTime(st.LastUpdate()),
		}
		utils.RespondJSON(w, http.StatusOK, resp)
	}
}
