// Package queue provides the durable action queue that buffers mutations
// until they reach the remote store.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/remote"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxRetries is the number of failed deliveries after which an action is
// dropped for good.
const MaxRetries = 3

// StorageKey is the local storage key holding the serialized queue.
const StorageKey = "action_queue"

// KV is the local durable storage the queue persists to.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Deliverer sends a single action to the remote store.
type Deliverer interface {
	Deliver(ctx context.Context, action models.QueuedAction) error
}

// DropRecorder is notified of actions removed without delivery.
type DropRecorder interface {
	RecordDrop(action models.QueuedAction, reason string) error
}

// DrainResult reports the outcome of one drain. Dropped is a subset of
// Failed. Deferred actions were not due yet and were not attempted.
type DrainResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Dropped   []string `json:"dropped"`
	Deferred  []string `json:"deferred,omitempty"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBackoff delays retries exponentially: base after the first failure,
// doubling up to max. A zero base retries on the next drain.
func WithBackoff(base, max time.Duration) Option {
	return func(q *Queue) {
		q.backoffBase = base
		q.backoffMax = max
	}
}

// WithDropRecorder records dropped actions.
func WithDropRecorder(r DropRecorder) Option {
	return func(q *Queue) { q.drops = r }
}

// Queue is an ordered, durable, at-least-once action queue.
type Queue struct {
	kv      KV
	deliver Deliverer
	drops   DropRecorder
	schemas map[models.ActionKind]*jsonschema.Schema

	now         func() time.Time
	backoffBase time.Duration
	backoffMax  time.Duration

	mu       sync.Mutex
	actions  []models.QueuedAction
	draining bool
	dropped  int
}

// New loads the persisted queue from kv. A corrupted stored queue is
// discarded and replaced by an empty one.
func New(kv KV, d Deliverer, opts ...Option) (*Queue, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	q := &Queue{
		kv:      kv,
		deliver: d,
		schemas: schemas,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	raw, err := q.kv.Get(StorageKey)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if raw == nil {
		return nil
	}

	var stored []models.QueuedAction
	if err := json.Unmarshal(raw, &stored); err != nil {
		log.Printf("Discarding corrupted action queue: %v", err)
		if err := q.kv.Remove(StorageKey); err != nil {
			return fmt.Errorf("reset queue: %w", err)
		}
		return nil
	}

	for _, a := range stored {
		if a.ID == "" || !a.Kind.Valid() {
			log.Printf("Skipping malformed queued action %q (kind %q)", a.ID, a.Kind)
			continue
		}
		q.actions = append(q.actions, a)
	}
	if len(q.actions) > 0 {
		log.Printf("Loaded %d queued actions", len(q.actions))
	}
	return nil
}

// persistLocked writes the queue; callers must hold q.mu.
func (q *Queue) persistLocked() error {
	if len(q.actions) == 0 {
		return q.kv.Set(StorageKey, []byte("[]"))
	}
	data, err := json.Marshal(q.actions)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.kv.Set(StorageKey, data); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

// Validate checks payload against the schema for kind without queueing it.
func (q *Queue) Validate(kind models.ActionKind, payload interface{}) (json.RawMessage, error) {
	schema, ok := q.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	raw, err := toRaw(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return raw, nil
}

// Enqueue validates payload, appends it and persists the queue before
// returning the new action id.
func (q *Queue) Enqueue(kind models.ActionKind, payload interface{}) (string, error) {
	raw, err := q.Validate(kind, payload)
	if err != nil {
		return "", err
	}

	action := models.QueuedAction{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = append(q.actions, action)
	if err := q.persistLocked(); err != nil {
		q.actions = q.actions[:len(q.actions)-1]
		return "", err
	}
	return action.ID, nil
}

// Drain attempts delivery of every due action in FIFO order. A failure is
// isolated to its action. Actions enqueued while draining are kept behind
// the survivors. Only one drain runs at a time.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return res, ErrDrainInProgress
	}
	q.draining = true
	batch := make([]models.QueuedAction, len(q.actions))
	copy(batch, q.actions)
	q.mu.Unlock()

	var survivors []models.QueuedAction
	var droppedActions []droppedAction
	for i, a := range batch {
		if ctx.Err() != nil {
			survivors = append(survivors, batch[i:]...)
			break
		}

		now := q.now()
		if !a.NextAttemptAt.IsZero() && a.NextAttemptAt.After(now) {
			res.Deferred = append(res.Deferred, a.ID)
			survivors = append(survivors, a)
			continue
		}

		err := q.deliver.Deliver(ctx, a)
		if err == nil {
			res.Succeeded = append(res.Succeeded, a.ID)
			continue
		}

		a.Attempts++
		a.LastError = err.Error()
		res.Failed = append(res.Failed, a.ID)

		switch {
		case remote.IsPermanent(err):
			res.Dropped = append(res.Dropped, a.ID)
			droppedActions = append(droppedActions, droppedAction{a, "permanent: " + err.Error()})
		case a.Attempts >= MaxRetries:
			res.Dropped = append(res.Dropped, a.ID)
			droppedActions = append(droppedActions, droppedAction{a, "max retries exceeded"})
		default:
			a.NextAttemptAt = q.nextAttempt(now, a.Attempts)
			survivors = append(survivors, a)
		}
	}

	for _, d := range droppedActions {
		log.Printf("Dropping %s action %s after %d attempt(s): %s", d.action.Kind, d.action.ID, d.action.Attempts, d.reason)
		if q.drops != nil {
			if err := q.drops.RecordDrop(d.action, d.reason); err != nil {
				log.Printf("Error recording dropped action %s: %v", d.action.ID, err)
			}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.draining = false
	q.dropped += len(res.Dropped)

	inBatch := make(map[string]bool, len(batch))
	for _, a := range batch {
		inBatch[a.ID] = true
	}
	present := make(map[string]bool, len(q.actions))
	for _, a := range q.actions {
		present[a.ID] = true
	}

	next := make([]models.QueuedAction, 0, len(survivors)+len(q.actions)-len(batch))
	for _, a := range survivors {
		if present[a.ID] {
			next = append(next, a)
		}
	}
	for _, a := range q.actions {
		if !inBatch[a.ID] {
			next = append(next, a)
		}
	}
	q.actions = next

	if len(res.Succeeded)+len(res.Failed) > 0 {
		log.Printf("Drain finished: %d delivered, %d failed, %d dropped, %d pending",
			len(res.Succeeded), len(res.Failed), len(res.Dropped), len(q.actions))
	}
	return res, q.persistLocked()
}

type droppedAction struct {
	action models.QueuedAction
	reason string
}

func (q *Queue) nextAttempt(now time.Time, attempts int) time.Time {
	if q.backoffBase <= 0 {
		return time.Time{}
	}
	delay := q.backoffBase << uint(attempts-1)
	if q.backoffMax > 0 && (delay > q.backoffMax || delay <= 0) {
		delay = q.backoffMax
	}
	return now.Add(delay)
}

// Pending returns a copy of the queued actions in order.
func (q *Queue) Pending() []models.QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedAction, len(q.actions))
	copy(out, q.actions)
	return out
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// DroppedCount returns how many actions this process has dropped.
func (q *Queue) DroppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Draining reports whether a drain is in flight.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Clear removes every queued action.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.actions = nil
	return q.persistLocked()
}

func toRaw(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
