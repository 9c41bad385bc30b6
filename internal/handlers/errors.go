package handlers

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/middleware"
	"fleetsync/internal/models"
	"fleetsync/internal/store"
	"fleetsync/pkg/utils"
)

// respondStoreError maps store sentinel errors onto HTTP statuses
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicate):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidUpdateType),
		errors.Is(err, store.ErrInvalidField):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithError(err).Error("❌ Unexpected store error")
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// canActFor reports whether the caller may write driverID's records.
// Drivers may only touch their own; anonymous callers are allowed because the
// Auth middleware already rejected them when auth is required.
func canActFor(r *http.Request, driverID string) bool {
	claims, ok := middleware.GetUserFromContext(r)
	if !ok {
		return true
	}
	if claims.Role == models.RoleDriver {
		return claims.UserID == driverID
	}
	return true
}
