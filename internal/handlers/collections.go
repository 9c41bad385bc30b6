package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/models"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
	"fleetsync/pkg/utils"
)

// CreateCollection appends an immutable bin pickup record
func CreateCollection(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c models.Collection
		if err := utils.DecodeAndValidate(r, &c); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !canActFor(r, c.DriverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		saved, err := st.AppendCollection(c)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		log.WithFields(log.Fields{
			"collection_id": saved.ID,
			"bin_id":        saved.BinID,
			"driver_id":     saved.DriverID,
			"weight":        saved.Weight,
		}).Info("🗑️ Collection recorded")
		hub.NotifySnapshotUpdated("collections")

		utils.RespondJSON(w, http.StatusCreated, models.CollectionResponse{Success: true, Collection: saved})
	}
}
