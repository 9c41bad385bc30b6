package services

import (
	"context"
	"encoding/base64"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"fleetsync/internal/models"
)

// AlertNotifier delivers manager alerts to devices outside the websocket session
type AlertNotifier interface {
	SendAlert(ctx context.Context, tokens []string, alert models.Alert) error
}

// FCMService handles Firebase Cloud Messaging
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(ctx context.Context, credentialsFile string) (*FCMService, error) {
	return newFCMService(ctx, option.WithCredentialsFile(credentialsFile))
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
func NewFCMServiceFromBase64(ctx context.Context, credentialsBase64 string) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(ctx, option.WithCredentialsJSON(credentialsJSON))
}

func newFCMService(ctx context.Context, opt option.ClientOption) (*FCMService, error) {
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMService{client: client}, nil
}

// SendAlert pushes an alert to every token in one multicast
func (s *FCMService) SendAlert(ctx context.Context, tokens []string, alert models.Alert) error {
	if len(tokens) == 0 {
		return nil
	}
	return s.SendMulticast(ctx, tokens, AlertTitle(alert), alert.Message, AlertData(alert))
}

// SendMulticast sends the same message to multiple tokens
func (s *FCMService) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.WithFields(log.Fields{
		"success": response.SuccessCount,
		"failure": response.FailureCount,
	}).Info("✅ Multicast sent")
	return nil
}

// AlertTitle is the notification title for an alert
func AlertTitle(alert models.Alert) string {
	if alert.Priority == models.PriorityCritical {
		return "Critical issue reported"
	}
	return "Issue reported"
}

// AlertData is the FCM data payload for an alert
func AlertData(alert models.Alert) map[string]string {
	return map[string]string{
		"type":      "alert",
		"alert_id":  alert.ID,
		"issue_id":  alert.IssueID,
		"driver_id": alert.DriverID,
		"priority":  alert.Priority,
	}
}

// LogNotifier stands in when no Firebase credentials are configured
type LogNotifier struct{}

func (LogNotifier) SendAlert(_ context.Context, tokens []string, alert models.Alert) error {
	log.WithFields(log.Fields{
		"alert_id": alert.ID,
		"priority": alert.Priority,
		"tokens":   len(tokens),
	}).Info("🔕 FCM not configured, alert not pushed")
	return nil
}
