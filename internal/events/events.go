// Package events is the typed publish/subscribe channel between the sync
// components and whatever presents their state.
package events

import (
	"sync"
	"time"

	"fleetsync/internal/models"
)

// Health is the connectivity quality derived from the last sync round trip
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthExcellent Health = "excellent"
	HealthGood      Health = "good"
	HealthSlow      Health = "slow"
	HealthPoor      Health = "poor"
)

// Event is implemented by every message on the bus
type Event interface {
	EventName() string
}

// DataChanged reports collections whose content moved
type DataChanged struct {
	Kinds  []models.CollectionKind
	Source string // "pull", "locations", "push", "local"
}

// HealthChanged carries the latest connection health
type HealthChanged struct {
	Health  Health
	Latency time.Duration
}

// OfflineWarning fires after repeated pull failures
type OfflineWarning struct {
	Failures int
	Err      string
}

// FuelChanged carries the new fuel level directly
type FuelChanged struct {
	DriverID string
	Level    float64
}

// StatusChanged is published once optimistically and again when the server
// acknowledges.
type StatusChanged struct {
	DriverID       string
	MovementStatus models.MovementStatus
	Status         models.DriverStatus
	Confirmed      bool
}

// Notice is a user-facing message that is not an error
type Notice struct {
	Message string
}

// AlertRaised carries an alert raised locally or received from the server
type AlertRaised struct {
	Alert models.Alert
}

// OnlineChanged follows the push channel connection state
type OnlineChanged struct {
	Online bool
}

func (DataChanged) EventName() string    { return "data_changed" }
func (HealthChanged) EventName() string  { return "health_changed" }
func (OfflineWarning) EventName() string { return "offline_warning" }
func (FuelChanged) EventName() string    { return "fuel_changed" }
func (StatusChanged) EventName() string  { return "status_changed" }
func (Notice) EventName() string         { return "notice" }
func (AlertRaised) EventName() string    { return "alert_raised" }
func (OnlineChanged) EventName() string  { return "online_changed" }

// Bus delivers events synchronously to subscribers in subscription order
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Event)
	order    []int
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]func(Event))}
}

// Subscribe registers fn for every event and returns a function that removes it
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish hands e to every subscriber. Handlers must not block.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(e)
	}
}

// On subscribes fn to events of type T only
func On[T Event](b *Bus, fn func(T)) func() {
	return b.Subscribe(func(e Event) {
		if typed, ok := e.(T); ok {
			fn(typed)
		}
	})
}

// Recorder collects published events, mostly for tests and the agent shell
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record subscribes a new recorder to b
func Record(b *Bus) *Recorder {
	r := &Recorder{}
	b.Subscribe(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Of returns the recorded events of type T
func Of[T Event](r *Recorder) []T {
	var out []T
	for _, e := range r.Events() {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
