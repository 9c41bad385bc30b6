package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"fleetsync/internal/middleware"
	"fleetsync/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Agents are not browsers; origin is not meaningful here
		return true
	},
}

// HandleWebSocket upgrades HTTP connection to WebSocket.
// Identity comes from a ?token= query parameter, then the Auth middleware
// context, then (only when auth is optional) ?user_id=&role= parameters.
func HandleWebSocket(hub *Hub, jwtSecret string, authRequired bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userClaims middleware.UserClaims

		if tokenString := r.URL.Query().Get("token"); tokenString != "" {
			claims, err := middleware.ParseToken(jwtSecret, tokenString)
			if err != nil {
				log.WithError(err).Warn("❌ Invalid token in query parameter")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userClaims = claims
		} else if claims, ok := middleware.GetUserFromContext(r); ok {
			userClaims = claims
		} else if !authRequired {
			userClaims = middleware.UserClaims{
				UserID: r.URL.Query().Get("user_id"),
				Role:   r.URL.Query().Get("role"),
			}
			if userClaims.Role == "" {
				userClaims.Role = models.RoleManager
			}
		} else {
			log.Warn("❌ No user for WebSocket connection")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Error("❌ WebSocket upgrade failed")
			return
		}

		client := NewClient(userClaims.UserID, userClaims.Role, conn, hub)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
