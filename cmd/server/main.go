package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"fleetsync/internal/config"
	"fleetsync/internal/handlers"
	"fleetsync/internal/logger"
	"fleetsync/internal/services"
	"fleetsync/internal/store"
	"fleetsync/internal/websocket"
)

const banner = "═══════════════════════════════════════════════════════════════════"

func main() {
	cfg, err := config.LoadServer(config.NewViper())
	if err != nil {
		log.WithError(err).Fatal("❌ FATAL ERROR: invalid configuration")
	}
	logger.Configure(cfg.LogLevel, cfg.LogFormat)

	log.Info(banner)
	log.Info("🚀 FLEETSYNC SERVER STARTING")
	log.Info(banner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New()
	log.Info("✅ Authoritative store initialized (in-memory)")

	notifier := newNotifier(ctx, cfg)

	hub := websocket.NewHub(st)
	go hub.Run(ctx)
	log.Info("✅ WebSocket hub started")

	router := handlers.NewRouter(handlers.Deps{
		Store:          st,
		Hub:            hub,
		Notifier:       notifier,
		JWTSecret:      cfg.JWTSecret,
		AuthRequired:   cfg.AuthRequired,
		AuthUsers:      cfg.AuthUsers,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestLogging: log.IsLevelEnabled(log.DebugLevel),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info(banner)
	log.WithFields(log.Fields{
		"auth_required": cfg.AuthRequired,
		"auth_users":    len(cfg.AuthUsers),
	}).Info("✅ ALL INITIALIZATION COMPLETE")
	log.Infof("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Info(banner)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("port", cfg.Port).Fatal("❌ FATAL ERROR: Server failed to start")
		}
	case <-ctx.Done():
		log.Info("🛑 Shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("⚠️ Graceful shutdown did not complete")
		}
	}
	log.Info("👋 Server stopped")
}

// newNotifier prefers base64 credentials (cloud deployments), then a
// credentials file, and falls back to logging alerts when neither works.
func newNotifier(ctx context.Context, cfg config.Server) services.AlertNotifier {
	if cfg.FirebaseCredsBase64 != "" {
		fcm, err := services.NewFCMServiceFromBase64(ctx, cfg.FirebaseCredsBase64)
		if err == nil {
			log.Info("✅ Firebase Cloud Messaging initialized from base64 credentials")
			return fcm
		}
		log.WithError(err).Warn("⚠️ Failed to initialize FCM from base64 (push notifications disabled)")
		return services.LogNotifier{}
	}

	if cfg.FirebaseCredsFile != "" {
		fcm, err := services.NewFCMService(ctx, cfg.FirebaseCredsFile)
		if err == nil {
			log.Info("✅ Firebase Cloud Messaging initialized from file")
			return fcm
		}
		log.WithError(err).Warn("⚠️ Failed to initialize FCM from file (push notifications disabled)")
		return services.LogNotifier{}
	}

	log.Info("ℹ️ No Firebase credentials configured, alerts are logged only")
	return services.LogNotifier{}
}
