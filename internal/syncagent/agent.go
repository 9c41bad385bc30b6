// Package syncagent keeps the Local Entity Store consistent with the
// authoritative server: an adaptive polling loop with change detection,
// per-collection merge rules, pushes with an offline queue, connection
// health, the manager location poller and the websocket nudge listener.
package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"fleetsync/internal/events"
	"fleetsync/internal/fingerprint"
	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
)

// Options tunes the agent loop
type Options struct {
	ActiveInterval  time.Duration
	IdleInterval    time.Duration
	ActiveWindow    time.Duration
	RequestTimeout  time.Duration
	MaxRetries      int
	MaxSkippedTicks int
	Clock           func() time.Time
}

// DefaultOptions mirrors the agent config defaults
func DefaultOptions() Options {
	return Options{
		ActiveInterval:  10 * time.Second,
		IdleInterval:    30 * time.Second,
		ActiveWindow:    60 * time.Second,
		RequestTimeout:  8 * time.Second,
		MaxRetries:      3,
		MaxSkippedTicks: 3,
		Clock:           time.Now,
	}
}

func (o *Options) fill() {
	def := DefaultOptions()
	if o.ActiveInterval <= 0 {
		o.ActiveInterval = def.ActiveInterval
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = def.IdleInterval
	}
	if o.ActiveWindow <= 0 {
		o.ActiveWindow = def.ActiveWindow
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.MaxSkippedTicks <= 0 {
		o.MaxSkippedTicks = def.MaxSkippedTicks
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
}

// TickOutcome says what one iteration of the loop did
type TickOutcome int

const (
	TickInFlight TickOutcome = iota
	TickUnchanged
	TickPulled
	TickFailed
)

func (t TickOutcome) String() string {
	switch t {
	case TickInFlight:
		return "in-flight"
	case TickUnchanged:
		return "unchanged"
	case TickPulled:
		return "pulled"
	case TickFailed:
		return "failed"
	}
	return "unknown"
}

// Agent is the Sync Agent
type Agent struct {
	store  *localstore.Store
	api    API
	bus    *events.Bus
	log    logrus.FieldLogger
	opts   Options
	merger *Merger
	queue  *Queue

	// Set before every pull and cleared on return
	syncing atomic.Bool
	online  atomic.Bool

	mu           sync.Mutex
	lastActivity time.Time
	lastFP       fingerprint.Fingerprint
	synced       bool
	failures     int
	skipped      int
	forcePull    bool
	health       events.Health

	pullNow  chan struct{}
	flushNow chan struct{}
}

// New builds an agent over store and registers it as a store observer
func New(store *localstore.Store, api API, bus *events.Bus, log logrus.FieldLogger, opts Options) *Agent {
	opts.fill()
	log = log.WithField("component", "syncagent")

	a := &Agent{
		store:    store,
		api:      api,
		bus:      bus,
		log:      log,
		opts:     opts,
		merger:   NewMerger(log),
		queue:    NewQueue(store.Persister(), store.PendingKey(), log),
		health:   events.HealthUnknown,
		pullNow:  make(chan struct{}, 1),
		flushNow: make(chan struct{}, 1),
	}
	a.online.Store(true)
	store.Observe(a.onChange)
	return a
}

// Load restores the pending push queue
func (a *Agent) Load(ctx context.Context) error {
	return a.queue.Load(ctx)
}

// Queue exposes the offline push queue
func (a *Agent) Queue() *Queue {
	return a.queue
}

// Merger exposes the merge state
func (a *Agent) Merger() *Merger {
	return a.merger
}

// Health returns the last classified connection health
func (a *Agent) Health() events.Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// Online reports the last connectivity signal
func (a *Agent) Online() bool {
	return a.online.Load()
}

// Interval is the current polling period: short while the client has been
// active within the active window, long otherwise.
func (a *Agent) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.lastActivity.IsZero() && a.opts.Clock().Sub(a.lastActivity) < a.opts.ActiveWindow {
		return a.opts.ActiveInterval
	}
	return a.opts.IdleInterval
}

// Run drives the loop until ctx is cancelled. The timer is recreated every
// iteration so a change of interval takes effect immediately.
func (a *Agent) Run(ctx context.Context) error {
	a.log.WithField("pending", a.queue.Len()).Info("🔄 Sync agent started")

	a.Tick(ctx)
	for {
		timer := time.NewTimer(a.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			a.log.Info("🛑 Sync agent stopped")
			return nil
		case <-timer.C:
			a.Tick(ctx)
		case <-a.pullNow:
			timer.Stop()
			a.Tick(ctx)
		case <-a.flushNow:
			timer.Stop()
			a.Flush(ctx)
		}
	}
}

// RequestSync forces the next tick to pull and wakes the loop
func (a *Agent) RequestSync() {
	a.mu.Lock()
	a.forcePull = true
	a.mu.Unlock()
	signal(a.pullNow)
}

// SetOnline records a connectivity signal. Going online replays the queue.
func (a *Agent) SetOnline(online bool) {
	if a.online.Swap(online) == online {
		return
	}
	a.bus.Publish(events.OnlineChanged{Online: online})
	if online {
		a.log.Info("🟢 Connection restored, replaying pending pushes")
		signal(a.flushNow)
		a.RequestSync()
		return
	}
	a.log.Warn("🔴 Connection lost, pushes will be queued")
}

// Tick runs one iteration: skip when a pull is in flight, skip when nothing
// changed locally since the last successful pull (unless forced or stale),
// otherwise pull, merge and flush the queue.
func (a *Agent) Tick(ctx context.Context) TickOutcome {
	if !a.syncing.CompareAndSwap(false, true) {
		a.log.Debug("⏭️ Sync already in flight, skipping tick")
		return TickInFlight
	}
	defer a.syncing.Store(false)

	current := fingerprint.Snapshot(a.store.Snapshot())

	a.mu.Lock()
	force := a.forcePull || !a.synced || a.skipped >= a.opts.MaxSkippedTicks
	if !force && a.lastFP.Equal(current) {
		a.skipped++
		a.mu.Unlock()
		return TickUnchanged
	}
	a.forcePull = false
	a.mu.Unlock()

	if err := a.pull(ctx); err != nil {
		return TickFailed
	}
	a.Flush(ctx)
	return TickPulled
}

func (a *Agent) pull(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	start := a.opts.Clock()
	resp, err := a.api.FetchSync(reqCtx)
	latency := a.opts.Clock().Sub(start)
	a.setHealth(Classify(latency, err), latency)

	if err != nil {
		a.recordFailure(err)
		return err
	}

	var result MergeResult
	a.store.Apply(localstore.OriginRemote, func(snap *models.Snapshot) []models.CollectionKind {
		result = a.merger.Merge(snap, resp.Data)
		return result.Applied
	})

	if len(result.Changed) > 0 {
		a.bus.Publish(events.DataChanged{Kinds: result.Changed, Source: "pull"})
	}

	a.mu.Lock()
	first := !a.synced
	a.synced = true
	a.failures = 0
	a.skipped = 0
	a.lastFP = fingerprint.Snapshot(a.store.Snapshot())
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"latency_ms": latency.Milliseconds(),
		"changed":    kindNames(result.Changed),
	}).Debug("✅ Pulled snapshot")
	a.setReachable(true)

	switch {
	case first:
		a.enqueueFull()
	case result.PushUsers:
		a.log.Info("📤 Server has no users yet, pushing local users")
		a.enqueuePartial(models.KindUsers)
	}
	return nil
}

func (a *Agent) recordFailure(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if IsRetriable(err) {
		a.setReachable(false)
	}
	a.mu.Lock()
	a.failures++
	failures := a.failures
	exhausted := failures >= a.opts.MaxRetries
	if exhausted {
		a.failures = 0
	}
	a.mu.Unlock()

	a.log.WithError(err).WithField("failures", failures).Warn("⚠️ Pull failed")
	if exhausted {
		a.bus.Publish(events.OfflineWarning{Failures: failures, Err: err.Error()})
	}
}

// setReachable feeds a pull outcome into the online flag. A successful pull
// counts as online even while the push channel is down; Tick flushes the
// queue right after it.
func (a *Agent) setReachable(ok bool) {
	if a.online.Swap(ok) == ok {
		return
	}
	a.bus.Publish(events.OnlineChanged{Online: ok})
	if ok {
		a.log.Info("🟢 Server reachable again, replaying pending pushes")
		return
	}
	a.log.Warn("🔴 Server unreachable, pushes will be queued")
}

func (a *Agent) setHealth(h events.Health, latency time.Duration) {
	a.mu.Lock()
	changed := a.health != h
	a.health = h
	a.mu.Unlock()
	if changed {
		a.bus.Publish(events.HealthChanged{Health: h, Latency: latency})
	}
}

// Flush replays the offline queue when the agent believes it is online
func (a *Agent) Flush(ctx context.Context) {
	if !a.online.Load() || a.queue.Len() == 0 {
		return
	}
	sent, err := a.queue.Replay(ctx, a.send)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.WithError(err).WithFields(logrus.Fields{
			"delivered": sent,
			"pending":   a.queue.Len(),
		}).Warn("⚠️ Replay interrupted, pushes stay queued")
		return
	}
	if sent > 0 {
		a.log.WithField("delivered", sent).Info("📤 Pending pushes delivered")
	}
}

// FullSync pushes the whole local store and replays the queue immediately
func (a *Agent) FullSync(ctx context.Context) error {
	a.enqueueFull()
	if !a.online.Load() {
		return nil
	}
	_, err := a.queue.Replay(ctx, a.send)
	return err
}

func (a *Agent) send(ctx context.Context, p PendingPush) error {
	reqCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	defer cancel()

	if _, err := a.api.PushSync(reqCtx, p.Data, p.UpdateType); err != nil {
		return err
	}
	a.merger.ConfirmPayload(p.Data)
	return nil
}

// onChange is the agent's place in the store's observer pipeline
func (a *Agent) onChange(c localstore.Change) {
	switch c.Origin {
	case localstore.OriginRemote:
		return
	case localstore.OriginTargeted:
		a.markActive()
	case localstore.OriginLocal:
		a.markActive()
		a.enqueuePartial(c.Kind)
		signal(a.flushNow)
	}
}

func (a *Agent) markActive() {
	a.mu.Lock()
	a.lastActivity = a.opts.Clock()
	a.mu.Unlock()
}

func (a *Agent) enqueuePartial(kinds ...models.CollectionKind) {
	snap := a.store.Snapshot()
	data := make(map[string]json.RawMessage, len(kinds))
	for _, kind := range kinds {
		// Pushed keys replace the server's value; the sync core never deletes
		if snap.Count(kind) == 0 {
			continue
		}
		raw, err := Encode(snap.Value(kind))
		if err != nil {
			a.log.WithError(err).WithField("kind", kind.String()).Error("❌ Failed to encode collection for push")
			continue
		}
		data[kind.String()] = raw
	}
	if len(data) == 0 {
		return
	}
	a.queue.Enqueue(data, models.UpdatePartial)
}

func (a *Agent) enqueueFull() {
	snap := a.store.Snapshot()
	data := make(map[string]json.RawMessage, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		if snap.Count(kind) == 0 {
			continue
		}
		raw, err := Encode(snap.Value(kind))
		if err != nil {
			a.log.WithError(err).WithField("kind", kind.String()).Error("❌ Failed to encode collection for push")
			continue
		}
		data[kind.String()] = raw
	}
	if len(data) == 0 {
		return
	}
	a.queue.Enqueue(data, models.UpdateFull)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func kindNames(kinds []models.CollectionKind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
