package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/models"
)

// Outgoing message types
const (
	TypeSnapshotUpdated      = "snapshot_updated"
	TypeDriverLocationUpdate = "driver_location_update"
	TypeAlert                = "alert"
	TypePong                 = "pong"
)

// LocationRecorder persists a location reported over the socket
type LocationRecorder interface {
	UpdateDriverLocation(driverID string, req models.LocationUpdateRequest) (models.DriverLocation, error)
}

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	// Registered clients (connection ID -> Client)
	clients map[string]*Client

	// Targeted messages
	broadcast chan *Message

	register   chan *Client
	unregister chan *Client

	// Where location_update messages from drivers are written
	locations LocationRecorder

	// Mutex for thread-safe client map access
	mu sync.RWMutex
}

// Message is addressed to every connection of one user
type Message struct {
	UserID string
	Data   interface{}
}

// Envelope is the JSON shape of every server-sent message
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewEnvelope stamps a message of the given type
func NewEnvelope(msgType string, data interface{}) Envelope {
	return Envelope{Type: msgType, Data: data, Timestamp: models.FormatTime(time.Now())}
}

// NewHub creates a new Hub instance
func NewHub(locations LocationRecorder) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		locations:  locations,
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.WithFields(log.Fields{
				"user_id": client.UserID,
				"role":    client.UserRole,
				"total":   total,
			}).Info("✅ [WEBSOCKET] Client CONNECTED")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				log.WithFields(log.Fields{
					"user_id":   client.UserID,
					"role":      client.UserRole,
					"remaining": len(h.clients),
				}).Info("🔴 [WEBSOCKET] Client DISCONNECTED")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message.Data)
			if err != nil {
				log.WithError(err).Error("❌ Failed to marshal message")
				continue
			}
			h.mu.RLock()
			for _, client := range h.clients {
				if client.UserID != message.UserID {
					continue
				}
				select {
				case client.send <- data:
				default:
					log.WithField("user_id", message.UserID).Warn("⚠️ Client buffer full, skipping")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastToUser sends a message to every connection of a specific user
func (h *Hub) BroadcastToUser(userID string, data interface{}) {
	select {
	case h.broadcast <- &Message{UserID: userID, Data: data}:
	default:
		log.WithField("user_id", userID).Warn("⚠️ Broadcast queue full, dropping message")
	}
}

// BroadcastToRole sends a message to all users with one of the given roles
func (h *Hub) BroadcastToRole(data interface{}, roles ...string) {
	h.fanOut(data, func(c *Client) bool {
		for _, role := range roles {
			if c.UserRole == role {
				return true
			}
		}
		return false
	})
}

// BroadcastAll sends a message to every connected client
func (h *Hub) BroadcastAll(data interface{}) {
	h.fanOut(data, func(*Client) bool { return true })
}

// NotifySnapshotUpdated tells every client the authoritative snapshot moved
func (h *Hub) NotifySnapshotUpdated(reason string) {
	h.BroadcastAll(NewEnvelope(TypeSnapshotUpdated, map[string]string{"reason": reason}))
}

func (h *Hub) fanOut(data interface{}, match func(*Client) bool) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).Error("❌ Failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client) {
			continue
		}
		select {
		case client.send <- dataBytes:
		default:
			log.WithField("user_id", client.UserID).Debug("⚠️ Client buffer full, skipping")
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsUserConnected checks if a user has at least one open connection
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserID == userID {
			return true
		}
	}
	return false
}
