package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fleetsync/internal/middleware"
	"fleetsync/internal/services"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
)

// Deps is everything the HTTP surface needs
type Deps struct {
	Store          *store.Store
	Hub            *websocket.Hub
	Notifier       services.AlertNotifier
	JWTSecret      string
	AuthRequired   bool
	AuthUsers      map[string]string
	AllowedOrigins []string
	RequestLogging bool
}

// NewRouter wires every endpoint of the sync API onto a chi router
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	if d.RequestLogging {
		r.Use(chimiddleware.Logger)
	}
	r.Use(chimiddleware.Recoverer)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// No auth: health, login, diagnostics, and the websocket (checks its own token)
	r.Get("/health", Health(d.Store, d.Hub))
	r.Post("/auth/login", Login(d.Store, d.AuthUsers, d.JWTSecret))
	r.Post("/logs/diagnostic", ReceiveDiagnosticLog())
	r.With(middleware.Auth(d.JWTSecret, false)).
		Get("/ws", websocket.HandleWebSocket(d.Hub, d.JWTSecret, d.AuthRequired))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret, d.AuthRequired))

		r.Get("/sync", GetSync(d.Store))
		r.Get("/driver/locations", GetDriverLocations(d.Store))
		r.Get("/driver/{id}/routes", GetDriverRoutes(d.Store))

		r.Post("/driver/{id}/location", UpdateDriverLocation(d.Store, d.Hub))
		r.Post("/driver/{id}/status", UpdateDriverStatus(d.Store, d.Hub))
		r.Post("/driver/{id}/fuel", UpdateDriverFuel(d.Store, d.Hub))
		r.Post("/driver/{id}/route-completion", CompleteDriverRoute(d.Store, d.Hub))
		r.Post("/driver/{id}/update", UpdateDriverProfile(d.Store, d.Hub))
		r.Post("/driver/{id}/fcm-token", RegisterFCMToken(d.Store))
		r.Post("/collections", CreateCollection(d.Store, d.Hub))
		r.Post("/issues", CreateIssue(d.Store, d.Hub, d.Notifier))
		r.Post("/sync", PushSync(d.Store, d.Hub))
		r.Post("/routes", UpsertRoute(d.Store, d.Hub))
	})

	return r
}
