package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/probuild/fieldsync/internal/errors"
	"github.com/probuild/fieldsync/internal/models"
	"github.com/probuild/fieldsync/internal/store"
	syncpkg "github.com/probuild/fieldsync/internal/sync"
)

// stubReconciler lets tests script per-record outcomes.
type stubReconciler struct {
	calls []string
	fn    func(rec *models.WorkRecord) (*syncpkg.Outcome, error)
}

func (s *stubReconciler) Reconcile(ctx context.Context, rec *models.WorkRecord) (*syncpkg.Outcome, error) {
	s.calls = append(s.calls, rec.ID)
	if s.fn != nil {
		return s.fn(rec)
	}
	return &syncpkg.Outcome{Synced: 1}, nil
}

func record(id string) *models.WorkRecord {
	return &models.WorkRecord{ID: id, Status: models.StatusCreated, CreatedAt: 1700000000}
}

func TestEnqueuePersistsSynchronously(t *testing.T) {
	kv := store.NewMemoryKV()
	q, err := New(kv, nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(record("r1"), models.ActionCreate))

	// The item is on stable storage before Enqueue returns.
	data, ok, err := kv.Get(store.KeySyncQueue)
	require.NoError(t, err)
	require.True(t, ok)

	var items []*Item
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].Record.ID)
	assert.Equal(t, models.ActionCreate, items[0].Action)
	assert.Equal(t, 0, items[0].RetryCount)
}

func TestEnqueueFailedPersistRollsBack(t *testing.T) {
	kv := store.NewMemoryKV()
	q, err := New(kv, nil)
	require.NoError(t, err)

	kv.FailSet = true
	err = q.Enqueue(record("r1"), models.ActionCreate)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrPersistence, apperrors.CodeOf(err))
	assert.Equal(t, 0, q.Len(), "memory must match stable storage")
}

func TestEnqueueSnapshotsRecord(t *testing.T) {
	q, err := New(store.NewMemoryKV(), nil)
	require.NoError(t, err)

	rec := record("r1")
	rec.Media = []models.MediaItem{{ID: "m1", Phase: models.PhaseBefore}}
	require.NoError(t, q.Enqueue(rec, models.ActionUpdate))

	// Later caller mutations must not leak into the queued snapshot.
	rec.Status = models.StatusCompleted
	rec.Media[0].Phase = models.PhaseAfter

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusCreated, items[0].Record.Status)
	assert.Equal(t, models.PhaseBefore, items[0].Record.Media[0].Phase)
}

func TestQueueRestoresFromStore(t *testing.T) {
	kv := store.NewMemoryKV()

	q, err := New(kv, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(record("r1"), models.ActionCreate))
	require.NoError(t, q.Enqueue(record("r2"), models.ActionComplete))

	// A restart reproduces the same queue.
	restored, err := New(kv, nil)
	require.NoError(t, err)
	items := restored.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "r1", items[0].Record.ID)
	assert.Equal(t, "r2", items[1].Record.ID)
}

func TestDrainOnceFIFOAndRemovesSuccesses(t *testing.T) {
	q, err := New(store.NewMemoryKV(), nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(record("r1"), models.ActionCreate))
	require.NoError(t, q.Enqueue(record("r2"), models.ActionUpdate))
	require.NoError(t, q.Enqueue(record("r3"), models.ActionComplete))

	stub := &stubReconciler{}
	outcome, dropped, err := q.DrainOnce(context.Background(), stub)

	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, stub.calls, "insertion order is the fairness policy")
	assert.Equal(t, 3, outcome.Synced)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 0, q.Len())
}

func TestDrainOnceIncrementsRetryOnFailure(t *testing.T) {
	q, err := New(store.NewMemoryKV(), nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(record("r1"), models.ActionCreate))

	stub := &stubReconciler{fn: func(*models.WorkRecord) (*syncpkg.Outcome, error) {
		return &syncpkg.Outcome{Failed: 1}, nil
	}}

	_, dropped, err := q.DrainOnce(context.Background(), stub)
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
}

func TestDrainOnceDropsAtRetryCeiling(t *testing.T) {
	q, err := New(store.NewMemoryKV(), &Config{MaxRetries: 5})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(record("r1"), models.ActionCreate))

	stub := &stubReconciler{fn: func(*models.WorkRecord) (*syncpkg.Outcome, error) {
		return nil, errors.New("remote unavailable")
	}}

	for i := 0; i < 4; i++ {
		_, dropped, err := q.DrainOnce(context.Background(), stub)
		require.NoError(t, err)
		assert.Equal(t, 0, dropped)
		assert.Equal(t, 1, q.Len())
	}

	// Fifth failure reaches the ceiling: dropped, not retried forever.
	_, dropped, err := q.DrainOnce(context.Background(), stub)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped, "the loss must be surfaced, not hidden")
	assert.Equal(t, 0, q.Len())

	// A subsequent pass sees nothing.
	stub.calls = nil
	_, _, err = q.DrainOnce(context.Background(), stub)
	require.NoError(t, err)
	assert.Empty(t, stub.calls)
}

func TestDrainOnceAbortsOnNotAuthenticated(t *testing.T) {
	q, err := New(store.NewMemoryKV(), nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(record("r1"), models.ActionCreate))
	require.NoError(t, q.Enqueue(record("r2"), models.ActionCreate))

	stub := &stubReconciler{fn: func(*models.WorkRecord) (*syncpkg.Outcome, error) {
		return nil, apperrors.New(apperrors.ErrNotAuthenticated, "no active session")
	}}

	_, _, err = q.DrainOnce(context.Background(), stub)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotAuthenticated, apperrors.CodeOf(err))

	// The pass aborted without burning retry budget on the remaining items.
	items := q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 0, items[0].RetryCount)
	assert.Equal(t, 0, items[1].RetryCount)
	assert.Len(t, stub.calls, 1)
}

func TestClear(t *testing.T) {
	kv := store.NewMemoryKV()
	q, err := New(kv, nil)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(record("r1"), models.ActionCreate))
	require.NoError(t, q.Clear())
	assert.Equal(t, 0, q.Len())

	// Clearing persists too.
	restored, err := New(kv, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, restored.Len())
}
