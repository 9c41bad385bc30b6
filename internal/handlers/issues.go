package handlers

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/models"
	"fleetsync/internal/services"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
	"fleetsync/pkg/utils"
)

const alertPushTimeout = 10 * time.Second

// CreateIssue records a field issue, raises a manager alert and pushes it to
// managers over the websocket and FCM.
func CreateIssue(st *store.Store, hub *websocket.Hub, notifier services.AlertNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var issue models.Issue
		if err := utils.DecodeAndValidate(r, &issue); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !canActFor(r, issue.DriverID) {
			utils.RespondError(w, http.StatusForbidden, "Forbidden")
			return
		}

		saved, alert, err := st.AppendIssue(issue)
		if err != nil {
			respondStoreError(w, err)
			return
		}

		log.WithFields(log.Fields{
			"issue_id":  saved.ID,
			"driver_id": saved.DriverID,
			"type":      saved.Type,
			"priority":  alert.Priority,
		}).Warn("🚨 Issue reported")

		hub.BroadcastToRole(websocket.NewEnvelope(websocket.TypeAlert, alert), models.RoleManager, models.RoleAdmin)
		hub.NotifySnapshotUpdated("issues")

		if notifier != nil {
			tokens := st.TokensForRoles(models.RoleManager, models.RoleAdmin)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), alertPushTimeout)
				defer cancel()
				if err := notifier.SendAlert(ctx, tokens, alert); err != nil {
					log.WithError(err).WithField("alert_id", alert.ID).Warn("⚠️ Failed to push alert")
				}
			}()
		}

		utils.RespondJSON(w, http.StatusCreated, models.IssueResponse{Success: true, Issue: saved, Alert: alert})
	}
}
