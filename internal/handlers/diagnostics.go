package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/models"
	"fleetsync/pkg/utils"
)

// ReceiveDiagnosticLog writes a client diagnostic into the server log
// POST /logs/diagnostic
func ReceiveDiagnosticLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry models.DiagnosticLog
		if err := utils.DecodeAndValidate(r, &entry); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		fields := log.Fields{
			"context":   entry.Context,
			"actor_id":  entry.ActorID,
			"platform":  entry.Platform,
			"client_ts": entry.Timestamp,
		}
		for k, v := range entry.Data {
			fields["data."+k] = v
		}
		logger := log.WithFields(fields)

		switch entry.Level {
		case "ERROR":
			logger.Error("🔴 CLIENT DIAGNOSTIC: " + entry.Message)
		case "WARNING":
			logger.Warn("🟡 CLIENT DIAGNOSTIC: " + entry.Message)
		case "DEBUG":
			logger.Debug("📱 CLIENT DIAGNOSTIC: " + entry.Message)
		default:
			logger.Info("🔵 CLIENT DIAGNOSTIC: " + entry.Message)
		}

		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "received",
		})
	}
}
