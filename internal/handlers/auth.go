package handlers

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"fleetsync/internal/middleware"
	"fleetsync/internal/models"
	"fleetsync/internal/store"
	"fleetsync/pkg/utils"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Success bool                  `json:"success"`
	Token   string                `json:"token"`
	User    middleware.UserClaims `json:"user"`
}

// Login checks credentials against the configured operator accounts and
// issues a bearer token. Identity and role come from the matching user in the
// snapshot; accounts with no such user sign in as admin.
func Login(st *store.Store, accounts map[string]string, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := utils.DecodeAndValidate(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}

		log.WithField("username", req.Username).Info("🔐 Login attempt")

		if jwtSecret == "" {
			log.Error("❌ JWT secret not configured")
			utils.RespondError(w, http.StatusInternalServerError, "Login is not configured")
			return
		}

		hash, ok := accounts[req.Username]
		if !ok {
			log.WithField("username", req.Username).Warn("❌ Unknown account")
			utils.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
			log.WithField("username", req.Username).Warn("❌ Invalid password")
			utils.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		claims := middleware.UserClaims{
			UserID:   req.Username,
			Username: req.Username,
			Role:     models.RoleAdmin,
		}
		if user, found := st.FindUserByUsername(req.Username); found {
			claims.UserID = user.ID
			claims.Role = user.Role
			if claims.Role == "" {
				claims.Role = models.RoleDriver
			}
		}

		token, err := middleware.IssueToken(jwtSecret, claims, time.Now())
		if err != nil {
			log.WithError(err).Error("❌ Failed to sign token")
			utils.RespondError(w, http.StatusInternalServerError, "Failed to sign token")
			return
		}

		log.WithFields(log.Fields{"user_id": claims.UserID, "role": claims.Role}).Info("✅ Login successful")
		utils.RespondJSON(w, http.StatusOK, LoginResponse{Success: true, Token: token, User: claims})
	}
}
