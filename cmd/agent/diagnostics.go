package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fleetsync/internal/events"
	"fleetsync/internal/models"
)

type diagnosticSender interface {
	ReportDiagnostic(ctx context.Context, entry models.DiagnosticLog) error
}

// reportRecoveries tells the server when this agent comes back from an
// offline stretch, so operators can see which clients lost connectivity.
func reportRecoveries(ctx context.Context, bus *events.Bus, sender diagnosticSender, actorID string, log logrus.FieldLogger) {
	var (
		mu      sync.Mutex
		offline *events.OfflineWarning
	)
	events.On(bus, func(e events.OfflineWarning) {
		mu.Lock()
		offline = &e
		mu.Unlock()
	})
	events.On(bus, func(e events.HealthChanged) {
		if e.Health == events.HealthPoor || e.Health == events.HealthUnknown {
			return
		}
		mu.Lock()
		warning := offline
		offline = nil
		mu.Unlock()
		if warning == nil {
			return
		}

		entry := models.DiagnosticLog{
			Timestamp: models.FormatTime(time.Now()),
			Context:   "syncagent",
			Level:     "WARNING",
			Message:   fmt.Sprintf("back online after %d failed pulls", warning.Failures),
			ActorID:   actorID,
			Platform:  "fleetsync-agent",
			Data: map[string]any{
				"lastError": warning.Err,
				"health":    string(e.Health),
			},
		}
		// Bus handlers must not block
		go func() {
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := sender.ReportDiagnostic(reqCtx, entry); err != nil {
				log.WithError(err).Debug("⚠️ Failed to send recovery diagnostic")
			}
		}()
	})
}
