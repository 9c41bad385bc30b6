package syncagent

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fleetsync/internal/events"
	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
	pushhub "fleetsync/internal/websocket"
)

const (
	minNudgeBackoff = 2 * time.Second
	maxNudgeBackoff = 30 * time.Second

	nudgeReadWait  = 70 * time.Second
	nudgeWriteWait = 10 * time.Second
)

// Syncer is what the nudge listener drives
type Syncer interface {
	RequestSync()
	SetOnline(online bool)
}

// NudgeListener keeps a websocket open to the server's push hub. Connecting
// and losing the connection are online signals for the agent, snapshot_updated messages
// trigger a pull, alerts are published on the bus and location updates are
// written straight into the store.
type NudgeListener struct {
	url    string
	syncer Syncer
	store  *localstore.Store
	bus    *events.Bus
	log    logrus.FieldLogger
	dialer *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewNudgeListener(base *url.URL, token string, syncer Syncer, store *localstore.Store, bus *events.Bus, log logrus.FieldLogger) *NudgeListener {
	return &NudgeListener{
		url:    WebsocketURL(base, token),
		syncer: syncer,
		store:  store,
		bus:    bus,
		log:    log.WithField("component", "nudge"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		minBackoff: minNudgeBackoff,
		maxBackoff: maxNudgeBackoff,
	}
}

// WebsocketURL derives the push hub address from the API base URL
func WebsocketURL(base *url.URL, token string) string {
	u := base.JoinPath("/ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// NextBackoff doubles d up to limit
func NextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit || d <= 0 {
		return limit
	}
	return d
}

// Run connects and reconnects until ctx is cancelled
func (l *NudgeListener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = l.minBackoff
		}
		l.log.WithError(err).WithField("retry_in", backoff.String()).Debug("🔌 Push channel closed, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = NextBackoff(backoff, l.maxBackoff)
	}
}

// session runs one connection and reports whether it was established
func (l *NudgeListener) session(ctx context.Context) (bool, error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		// A failed dial says nothing about plain HTTP, pulls decide that
		return false, err
	}
	defer conn.Close()

	l.log.Info("✅ Push channel connected")
	l.syncer.SetOnline(true)
	defer func() {
		if ctx.Err() == nil {
			l.syncer.SetOnline(false)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(nudgeWriteWait))
			conn.Close()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(nudgeReadWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(nudgeReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(nudgeWriteWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(nudgeReadWait))
		l.handle(message)
	}
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (l *NudgeListener) handle(raw []byte) {
	var msg envelope
	if err := json.Unmarshal(raw, &msg); err != nil {
		l.log.WithError(err).Debug("⚠️ Ignoring malformed push message")
		return
	}

	switch msg.Type {
	case pushhub.TypeSnapshotUpdated:
		l.syncer.RequestSync()

	case pushhub.TypeAlert:
		var alert models.Alert
		if err := json.Unmarshal(msg.Data, &alert); err != nil {
			l.log.WithError(err).Warn("⚠️ Ignoring malformed alert")
			return
		}
		l.log.WithFields(logrus.Fields{"alert_id": alert.ID, "priority": alert.Priority}).Info("🚨 Alert received")
		l.bus.Publish(events.AlertRaised{Alert: alert})

	case pushhub.TypeDriverLocationUpdate:
		var loc models.DriverLocation
		if err := json.Unmarshal(msg.Data, &loc); err != nil || loc.DriverID == "" {
			l.log.WithError(err).Debug("⚠️ Ignoring malformed location update")
			return
		}
		l.store.UpsertDriverLocation(loc, localstore.OriginRemote)
		l.bus.Publish(events.DataChanged{
			Kinds:  []models.CollectionKind{models.KindDriverLocations},
			Source: "push",
		})

	case pushhub.TypePong:
	default:
		l.log.WithField("type", msg.Type).Debug("Unhandled push message")
	}
}
