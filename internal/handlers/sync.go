package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/models"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
	"fleetsync/pkg/utils"
)

// GetSync returns the entire authoritative snapshot
func GetSync(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, lastUpdate, err := st.SyncData()
		if err != nil {
			log.WithError(err).Error("❌ Failed to encode snapshot")
			utils.RespondError(w, http.StatusInternalServerError, "Failed to encode snapshot")
			return
		}

		utils.RespondJSON(w, http.StatusOK, models.SyncResponse{
			Success:   true,
			Data:      data,
			Timestamp: models.FormatTime(lastUpdate),
		})
	}
}

// PushSync applies a full or partial snapshot from a client
func PushSync(st *store.Store, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.PushRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		keys := make([]string, 0, len(req.Data))
		for key := range req.Data {
			keys = append(keys, key)
		}

		ts, err := st.ApplyUpdate(req.Data, req.UpdateType)
		if err != nil {
			log.WithError(err).WithField("update_type", req.UpdateType).Warn("❌ Sync push rejected")
			respondStoreError(w, err)
			return
		}

		log.WithFields(log.Fields{
			"update_type": req.UpdateType,
			"keys":        keys,
		}).Info("📥 Snapshot updated")
		hub.NotifySnapshotUpdated("sync")

		utils.RespondJSON(w, http.StatusOK, models.PushResponse{
			Success:   true,
			Message:   "Data synchronized successfully",
			Timestamp: models.FormatTime(ts),
		})
	}
}
