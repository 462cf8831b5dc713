// Package queue provides the durable offline operation queue and its
// replay state machine.
//
// Pending operations are persisted before they are acknowledged, survive
// process restarts, and are replayed in FIFO order against a caller-supplied
// submit function. Delivery is at-least-once: a crash mid-replay leaves the
// record queued for the next pass, so submit must be idempotent from the
// backend's perspective.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/quickmart/poscore/internal/errors"
	"github.com/quickmart/poscore/internal/logging"
	"github.com/quickmart/poscore/internal/models"
	"github.com/quickmart/poscore/internal/opid"
	"github.com/quickmart/poscore/internal/store"
)

const (
	// MaxReplayAttempts is the retry ceiling. An operation that fails this
	// many replay passes is moved to the dead-letter partition.
	MaxReplayAttempts = 5

	// DefaultSubmitTimeout bounds a single submit call. Expiry counts as a
	// rejection so one hung call cannot stall the pass forever.
	DefaultSubmitTimeout = 30 * time.Second
)

// Storage is the durable persistence the queue requires. *store.Store
// satisfies it; tests may supply fakes.
type Storage interface {
	Put(ctx context.Context, partition, key string, value []byte) error
	GetAll(ctx context.Context, partition string) ([]store.Record, error)
	Delete(ctx context.Context, partition, key string) error
}

// SubmitFunc delivers one pending operation to the authoritative backend.
// true means the backend accepted it; false means it was rejected but not
// fatally. A returned error is treated like a rejection for retry purposes
// but logged distinctly, since it indicates an unexpected failure rather
// than a deliberate business rejection.
type SubmitFunc func(ctx context.Context, op models.PendingOperation) (bool, error)

// Events receives queue notifications, typically bridged to the UI over
// WebSocket. All methods are called synchronously from queue operations.
type Events interface {
	QueueEnqueued(op models.PendingOperation, pending int)
	ReplayStarted(pending int)
	ReplayCompleted(result ReplayResult)
	DeadLetter(op models.PendingOperation)
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Attempted int           `json:"attempted"`
	Delivered int           `json:"delivered"`
	Retained  int           `json:"retained"`
	Dropped   int           `json:"dropped"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// OfflineQueue is the durable FIFO queue of pending mutations. The in-memory
// mirror holds insertion order; the storage partition holds the durable
// copies keyed by the sortable operation id, so order is reconstructable
// after a restart.
type OfflineQueue struct {
	storage       Storage
	submitTimeout time.Duration
	maxAttempts   int

	mu        sync.Mutex
	ops       []*models.PendingOperation
	index     map[string]*models.PendingOperation
	replaying bool
	events    Events
}

// Option configures an OfflineQueue.
type Option func(*OfflineQueue)

// WithSubmitTimeout overrides the per-submit timeout.
func WithSubmitTimeout(d time.Duration) Option {
	return func(q *OfflineQueue) {
		if d > 0 {
			q.submitTimeout = d
		}
	}
}

// WithMaxAttempts overrides the retry ceiling.
func WithMaxAttempts(n int) Option {
	return func(q *OfflineQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// New creates an OfflineQueue over the given storage. Call Load before use
// to restore operations persisted by a previous run.
func New(storage Storage, opts ...Option) *OfflineQueue {
	q := &OfflineQueue{
		storage:       storage,
		submitTimeout: DefaultSubmitTimeout,
		maxAttempts:   MaxReplayAttempts,
		index:         make(map[string]*models.PendingOperation),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SetEventHandler sets the event handler for queue notifications.
func (q *OfflineQueue) SetEventHandler(events Events) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = events
}

// Load rebuilds the in-memory mirror from durable storage. FIFO order is
// restored from the sortable ids, which GetAll already returns ordered by.
func (q *OfflineQueue) Load(ctx context.Context) error {
	records, err := q.storage.GetAll(ctx, store.PartitionPendingOps)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = q.ops[:0]
	q.index = make(map[string]*models.PendingOperation, len(records))

	for _, r := range records {
		var op models.PendingOperation
		if err := json.Unmarshal(r.Value, &op); err != nil {
			// A corrupt record must not block the rest of the queue.
			logging.ErrorWithCode("Skipping corrupt pending operation", string(errors.ErrStorage), err,
				map[string]interface{}{"id": r.Key})
			continue
		}
		q.ops = append(q.ops, &op)
		q.index[op.ID] = &op
	}

	logging.Info("Offline queue loaded", map[string]interface{}{"pending": len(q.ops)})
	return nil
}

// Enqueue persists a new pending operation and appends it to the queue.
// The operation is durable when Enqueue returns; a storage failure
// propagates to the caller and nothing is enqueued.
func (q *OfflineQueue) Enqueue(ctx context.Context, entityType models.EntityType, op models.Operation, payload json.RawMessage) (string, error) {
	if entityType == "" {
		return "", errors.New(errors.ErrInvalid, "entity type must be non-empty")
	}
	if !models.IsValidOperation(op) {
		return "", errors.New(errors.ErrInvalid, fmt.Sprintf("unknown operation %q", op))
	}

	pending := models.PendingOperation{
		ID:         opid.New(),
		EntityType: entityType,
		Op:         op,
		Payload:    payload,
		EnqueuedAt: time.Now().Unix(),
		RetryCount: 0,
	}

	value, err := json.Marshal(pending)
	if err != nil {
		return "", errors.Wrap(errors.ErrInternal, "failed to marshal pending operation", err)
	}
	if err := q.storage.Put(ctx, store.PartitionPendingOps, pending.ID, value); err != nil {
		return "", err
	}

	q.mu.Lock()
	q.ops = append(q.ops, &pending)
	q.index[pending.ID] = &pending
	count := len(q.ops)
	events := q.events
	q.mu.Unlock()

	logging.Debug("Enqueued pending operation", map[string]interface{}{
		"id":          pending.ID,
		"entity_type": string(entityType),
		"operation":   string(op),
	})

	if events != nil {
		events.QueueEnqueued(pending, count)
	}
	return pending.ID, nil
}

// List returns a snapshot copy of the queue in FIFO order. Safe to call at
// any time, including mid-replay.
func (q *OfflineQueue) List(ctx context.Context) []models.PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := make([]models.PendingOperation, 0, len(q.ops))
	for _, op := range q.ops {
		ops = append(ops, *op)
	}
	return ops
}

// Count returns the number of queued operations.
func (q *OfflineQueue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Remove deletes an operation from durable storage and the mirror.
// Idempotent: removing an absent id is not an error.
func (q *OfflineQueue) Remove(ctx context.Context, id string) error {
	if err := q.storage.Delete(ctx, store.PartitionPendingOps, id); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeFromMirrorLocked(id)
	return nil
}

func (q *OfflineQueue) removeFromMirrorLocked(id string) {
	if _, ok := q.index[id]; !ok {
		return
	}
	delete(q.index, id)
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

// ErrReplayInProgress is returned by Replay when another pass is running.
var ErrReplayInProgress = errors.New(errors.ErrReplayInProgress, "replay already in progress")

// Replay attempts one delivery pass over the current queue snapshot in FIFO
// order. Each operation is attempted at most once per pass; per-item
// failures are absorbed into retry bookkeeping and never fail the pass.
// A second concurrent Replay returns ErrReplayInProgress without touching
// the queue. The pass aborts early only when ctx is cancelled.
func (q *OfflineQueue) Replay(ctx context.Context, submit SubmitFunc) (*ReplayResult, error) {
	q.mu.Lock()
	if q.replaying {
		q.mu.Unlock()
		return nil, ErrReplayInProgress
	}
	q.replaying = true

	snapshot := make([]models.PendingOperation, 0, len(q.ops))
	for _, op := range q.ops {
		snapshot = append(snapshot, *op)
	}
	events := q.events
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.replaying = false
		q.mu.Unlock()
	}()

	result := &ReplayResult{
		Attempted: len(snapshot),
		StartTime: time.Now(),
	}
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)
	}()

	if events != nil {
		events.ReplayStarted(len(snapshot))
	}

	for _, op := range snapshot {
		if ctx.Err() != nil {
			result.Attempted = result.Delivered + result.Retained + result.Dropped
			return result, ctx.Err()
		}

		accepted := q.attempt(ctx, submit, op)
		if accepted {
			if err := q.Remove(ctx, op.ID); err != nil {
				// Delivered but not removed; the record stays queued and the
				// backend sees a duplicate next pass. At-least-once allows it.
				logging.ErrorWithCode("Failed to remove delivered operation", string(errors.CodeOf(err)), err,
					map[string]interface{}{"id": op.ID})
			}
			result.Delivered++
			continue
		}

		dropped := q.recordFailure(ctx, op.ID)
		if dropped {
			result.Dropped++
		} else {
			result.Retained++
		}
	}

	if events != nil {
		events.ReplayCompleted(*result)
	}

	logging.Info("Replay pass completed", map[string]interface{}{
		"attempted": result.Attempted,
		"delivered": result.Delivered,
		"retained":  result.Retained,
		"dropped":   result.Dropped,
	})
	return result, nil
}

// attempt runs one submit call under the per-submit timeout. Timeout and
// submit errors count as rejection.
func (q *OfflineQueue) attempt(ctx context.Context, submit SubmitFunc, op models.PendingOperation) bool {
	submitCtx, cancel := context.WithTimeout(ctx, q.submitTimeout)
	defer cancel()

	accepted, err := submit(submitCtx, op)
	if err != nil {
		code := errors.ErrSubmitFailed
		if submitCtx.Err() == context.DeadlineExceeded {
			code = errors.ErrSyncTimeout
		}
		logging.ErrorWithCode("Submit failed", string(code), err, map[string]interface{}{
			"id":          op.ID,
			"entity_type": string(op.EntityType),
			"retry_count": op.RetryCount,
		})
		q.setLastError(op.ID, err.Error())
		return false
	}
	if !accepted {
		logging.Debug("Submit rejected by backend", map[string]interface{}{
			"id":          op.ID,
			"retry_count": op.RetryCount,
		})
	}
	return accepted
}

func (q *OfflineQueue) setLastError(id, msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if op, ok := q.index[id]; ok {
		op.LastError = msg
	}
}

// recordFailure increments the retry count of a queued operation and
// persists the new count. When the count reaches the ceiling the operation
// is copied to the dead-letter partition and evicted. Returns true when the
// operation was dropped.
func (q *OfflineQueue) recordFailure(ctx context.Context, id string) bool {
	q.mu.Lock()
	op, ok := q.index[id]
	if !ok {
		// Removed concurrently (e.g. caller gave up on it mid-pass).
		q.mu.Unlock()
		return false
	}
	op.RetryCount++
	snapshot := *op
	exceeded := op.RetryCount >= q.maxAttempts
	events := q.events
	q.mu.Unlock()

	value, err := json.Marshal(snapshot)
	if err != nil {
		logging.Error("Failed to marshal pending operation", err, map[string]interface{}{"id": id})
		return false
	}

	if exceeded {
		// Dead-letter first, then evict. Losing the race between the two
		// leaves a duplicate dead letter, never a lost record.
		if err := q.storage.Put(ctx, store.PartitionDeadLetters, id, value); err != nil {
			logging.ErrorWithCode("Failed to dead-letter operation", string(errors.CodeOf(err)), err,
				map[string]interface{}{"id": id})
		}
		if err := q.Remove(ctx, id); err != nil {
			logging.ErrorWithCode("Failed to evict operation", string(errors.CodeOf(err)), err,
				map[string]interface{}{"id": id})
		}
		logging.Warn("Operation exceeded retry ceiling, dropped", map[string]interface{}{
			"id":          id,
			"retry_count": snapshot.RetryCount,
		})
		if events != nil {
			events.DeadLetter(snapshot)
		}
		return true
	}

	if err := q.storage.Put(ctx, store.PartitionPendingOps, id, value); err != nil {
		// The in-memory count advanced; a restart resets it to the persisted
		// value, which only grants the operation extra attempts.
		logging.ErrorWithCode("Failed to persist retry count", string(errors.CodeOf(err)), err,
			map[string]interface{}{"id": id})
	}
	return false
}

// DeadLetters returns operations evicted after exceeding the retry ceiling,
// oldest first.
func (q *OfflineQueue) DeadLetters(ctx context.Context) ([]models.PendingOperation, error) {
	records, err := q.storage.GetAll(ctx, store.PartitionDeadLetters)
	if err != nil {
		return nil, err
	}

	ops := make([]models.PendingOperation, 0, len(records))
	for _, r := range records {
		var op models.PendingOperation
		if err := json.Unmarshal(r.Value, &op); err != nil {
			logging.Error("Skipping corrupt dead letter", err, map[string]interface{}{"id": r.Key})
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Discard permanently deletes a dead letter. Idempotent.
func (q *OfflineQueue) Discard(ctx context.Context, id string) error {
	return q.storage.Delete(ctx, store.PartitionDeadLetters, id)
}
