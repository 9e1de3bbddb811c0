// Package queue provides the durable, ordered, at-least-once queue of pending
// local mutations awaiting transmission.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/probuild/fieldsync/internal/errors"
	"github.com/probuild/fieldsync/internal/logging"
	"github.com/probuild/fieldsync/internal/models"
	"github.com/probuild/fieldsync/internal/store"
	syncpkg "github.com/probuild/fieldsync/internal/sync"
)

// Item is one pending mutation: the work-record snapshot taken at enqueue
// time plus the action that produced it.
type Item struct {
	ID         string             `json:"id"`
	Record     *models.WorkRecord `json:"record"`
	Action     models.SyncAction  `json:"action"`
	EnqueuedAt int64              `json:"enqueued_at"`
	RetryCount int                `json:"retry_count"`
}

// Config holds queue policy.
type Config struct {
	// MaxRetries is the attempt ceiling after which an item is dropped
	// rather than retried forever. Dropping bounds queue growth from a
	// permanently-invalid record; the loss is surfaced through drain
	// counts, never hidden.
	MaxRetries int
}

// DefaultConfig returns the default queue policy.
func DefaultConfig() *Config {
	return &Config{MaxRetries: 5}
}

// Queue is a durable FIFO persisted to the local store after every mutation.
// Insertion order is the fairness policy; there is no priority reordering.
type Queue struct {
	mu         sync.Mutex
	kv         store.KV
	items      []*Item
	maxRetries int
}

// New creates a Queue over kv, restoring any persisted items. A nil config
// uses DefaultConfig.
func New(kv store.KV, config *Config) (*Queue, error) {
	if config == nil {
		config = DefaultConfig()
	}

	q := &Queue{
		kv:         kv,
		maxRetries: config.MaxRetries,
	}

	data, ok, err := kv.Get(store.KeySyncQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}
	if ok {
		if err := json.Unmarshal(data, &q.items); err != nil {
			return nil, fmt.Errorf("failed to decode sync queue: %w", err)
		}
	}

	return q, nil
}

// Enqueue appends a snapshot of rec with RetryCount 0 and persists the queue
// synchronously before returning. Durability precedes any network attempt.
func (q *Queue) Enqueue(rec *models.WorkRecord, action models.SyncAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &Item{
		ID:         fmt.Sprintf("%s-%s-%d", rec.ID, action, time.Now().UnixNano()),
		Record:     rec.Clone(),
		Action:     action,
		EnqueuedAt: time.Now().Unix(),
	}

	q.items = append(q.items, item)
	if err := q.persistLocked(); err != nil {
		// Roll back the in-memory append so memory matches stable storage.
		q.items = q.items[:len(q.items)-1]
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to persist sync queue", err)
	}

	logging.Debug("Enqueued sync item",
		map[string]interface{}{
			"item_id": item.ID,
			"action":  string(action),
		})
	return nil
}

// DrainOnce walks the queue in insertion order, reconciling each item.
// Successful items are removed; failed items have their retry counter
// incremented and are dropped once they reach the ceiling. Dropped counts are
// reported so the orchestrator can surface the loss.
func (q *Queue) DrainOnce(ctx context.Context, reconciler syncpkg.RecordReconciler) (*syncpkg.Outcome, int, error) {
	q.mu.Lock()
	snapshot := make([]*Item, len(q.items))
	copy(snapshot, q.items)
	q.mu.Unlock()

	total := &syncpkg.Outcome{}
	removed := make(map[string]bool)
	dropped := 0

	for _, item := range snapshot {
		select {
		case <-ctx.Done():
			q.finishPass(removed)
			return total, dropped, ctx.Err()
		default:
		}

		outcome, err := reconciler.Reconcile(ctx, item.Record)
		if err != nil && apperrors.Is(err, apperrors.ErrNotAuthenticated) {
			// Fatal to the pass; leave the queue untouched beyond what
			// already succeeded.
			q.finishPass(removed)
			return total, dropped, err
		}

		if err == nil && outcome != nil && outcome.Failed == 0 {
			total.Add(outcome)
			removed[item.ID] = true
			continue
		}

		if outcome != nil {
			total.Add(outcome)
		} else {
			total.Add(&syncpkg.Outcome{Failed: 1})
		}

		item.RetryCount++
		if item.RetryCount >= q.maxRetries {
			removed[item.ID] = true
			dropped++
			logging.Warn("Dropping sync item after retry ceiling",
				map[string]interface{}{
					"item_id":     item.ID,
					"retry_count": item.RetryCount,
				})
		} else {
			logging.Debug("Sync item failed, will retry",
				map[string]interface{}{
					"item_id":     item.ID,
					"retry_count": item.RetryCount,
				})
		}
	}

	q.finishPass(removed)
	return total, dropped, nil
}

// finishPass filters out removed items and persists the remainder. Items
// enqueued during the pass are preserved.
func (q *Queue) finishPass(removed map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, item := range q.items {
		if !removed[item.ID] {
			kept = append(kept, item)
		}
	}
	q.items = kept

	if err := q.persistLocked(); err != nil {
		// Worst case the same items are reprocessed on the next pass;
		// reconciliation is idempotent.
		logging.Error("Failed to persist sync queue after drain", err, nil)
	}
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the pending items in insertion order.
func (q *Queue) Items() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Item, 0, len(q.items))
	for _, item := range q.items {
		cp := *item
		out = append(out, &cp)
	}
	return out
}

// Clear removes all pending items. Invoked on sign-out.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	if err := q.persistLocked(); err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, "failed to persist cleared queue", err)
	}

	logging.Info("Sync queue cleared", nil)
	return nil
}

func (q *Queue) persistLocked() error {
	items := q.items
	if items == nil {
		items = []*Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return q.kv.Set(store.KeySyncQueue, data)
}
