package syncagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleetsync/internal/localstore"
	"fleetsync/internal/models"
)

// PendingPush is a push that has not been acknowledged by the server yet
type PendingPush struct {
	ID         string                     `json:"id"`
	Data       map[string]json.RawMessage `json:"data"`
	UpdateType models.UpdateType          `json:"updateType"`
	CreatedAt  string                     `json:"createdAt"`
	Attempts   int                        `json:"attempts"`
}

// Kinds returns the collection names carried by the push
func (p PendingPush) Kinds() []string {
	names := make([]string, 0, len(p.Data))
	for _, kind := range models.AllKinds {
		if _, ok := p.Data[kind.String()]; ok {
			names = append(names, kind.String())
		}
	}
	return names
}

// Queue is the ordered offline push queue. Every change is written through
// to the persister so queued pushes survive a restart.
type Queue struct {
	mu       sync.Mutex
	items    []PendingPush
	inFlight string

	// Serializes replays
	replayMu sync.Mutex

	persister localstore.Persister
	key       string
	log       logrus.FieldLogger
}

// NewQueue creates an empty queue stored under key. persister may be nil.
func NewQueue(persister localstore.Persister, key string, log logrus.FieldLogger) *Queue {
	return &Queue{persister: persister, key: key, log: log}
}

// Load restores the queue from the persister
func (q *Queue) Load(ctx context.Context) error {
	if q.persister == nil {
		return nil
	}
	raw, ok, err := q.persister.Load(ctx, q.key)
	if err != nil {
		return fmt.Errorf("load pending pushes: %w", err)
	}
	if !ok {
		return nil
	}
	var items []PendingPush
	if err := json.Unmarshal(raw, &items); err != nil {
		q.log.WithError(err).Warn("⚠️ Discarding corrupt pending push queue")
		return nil
	}
	q.mu.Lock()
	q.items = items
	q.mu.Unlock()
	return nil
}

// Enqueue appends a push. A partial push directly behind another partial push
// that is not being sent is folded into it; later values win per collection.
func (q *Queue) Enqueue(data map[string]json.RawMessage, updateType models.UpdateType) PendingPush {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.items); n > 0 && updateType == models.UpdatePartial {
		tail := &q.items[n-1]
		if tail.UpdateType == models.UpdatePartial && tail.ID != q.inFlight {
			for k, v := range data {
				tail.Data[k] = v
			}
			q.persistLocked()
			return *tail
		}
	}

	p := PendingPush{
		ID:         uuid.New().String(),
		Data:       make(map[string]json.RawMessage, len(data)),
		UpdateType: updateType,
		CreatedAt:  models.FormatTime(time.Now()),
	}
	for k, v := range data {
		p.Data[k] = v
	}
	q.items = append(q.items, p)
	q.persistLocked()
	return p
}

// Len returns the number of queued pushes
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queue in send order
func (q *Queue) Items() []PendingPush {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingPush(nil), q.items...)
}

// Replay sends queued pushes in order through send. An acknowledged push is
// removed. A retriable failure stops the replay and keeps the push at the
// head; any other failure drops the push. Returns how many were delivered.
func (q *Queue) Replay(ctx context.Context, send func(context.Context, PendingPush) error) (int, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		head, ok := q.claimHead()
		if !ok {
			return delivered, nil
		}

		err := send(ctx, head)
		switch {
		case err == nil:
			q.remove(head.ID)
			delivered++
		case IsRetriable(err):
			q.release(head.ID)
			return delivered, err
		default:
			q.log.WithError(err).WithFields(logrus.Fields{
				"push_id": head.ID,
				"kinds":   head.Kinds(),
			}).Warn("⚠️ Dropping pending push rejected by server")
			q.remove(head.ID)
		}
	}
}

func (q *Queue) claimHead() (PendingPush, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PendingPush{}, false
	}
	q.items[0].Attempts++
	q.inFlight = q.items[0].ID
	q.persistLocked()
	return q.items[0], true
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == id {
		q.inFlight = ""
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == id {
		q.inFlight = ""
	}
	for i, p := range q.items {
		if p.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	q.persistLocked()
}

func (q *Queue) persistLocked() {
	if q.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(q.items) == 0 {
		if err := q.persister.Delete(ctx, q.key); err != nil {
			q.log.WithError(err).Warn("⚠️ Failed to clear pending push queue")
		}
		return
	}
	raw, err := json.Marshal(q.items)
	if err != nil {
		q.log.WithError(err).Warn("⚠️ Failed to encode pending push queue")
		return
	}
	if err := q.persister.Save(ctx, q.key, raw); err != nil {
		q.log.WithError(err).Warn("⚠️ Failed to persist pending push queue")
	}
}
