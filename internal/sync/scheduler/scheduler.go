// Package scheduler provides the top-level sync orchestrator: it reacts to
// connectivity changes, app-foreground transitions and a periodic timer, and
// drives the sync queue and the full-corpus reconciliation pass without
// blocking the caller.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/probuild/fieldsync/internal/errors"
	"github.com/probuild/fieldsync/internal/logging"
	"github.com/probuild/fieldsync/internal/models"
	"github.com/probuild/fieldsync/internal/remote"
	"github.com/probuild/fieldsync/internal/store"
	syncpkg "github.com/probuild/fieldsync/internal/sync"
	"github.com/probuild/fieldsync/internal/sync/queue"
)

// Config holds orchestrator policy. The interval and threshold values are
// inherited app policy, kept configurable rather than hard-coded.
type Config struct {
	// SyncInterval is the periodic trigger interval while foregrounded and
	// online.
	SyncInterval time.Duration
	// InterRecordDelay is the pause between work records during a
	// full-corpus pass, to avoid overwhelming the remote API.
	InterRecordDelay time.Duration
	// FailureThreshold is the number of consecutive failed passes before
	// the status turns user-visibly degraded.
	FailureThreshold int
}

// DefaultConfig returns the default orchestrator policy.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		InterRecordDelay: 500 * time.Millisecond,
		FailureThreshold: 3,
	}
}

// Result is the answer to a manual sync request.
type Result struct {
	Started bool
	Success bool
	Error   string
	Status  models.SyncStatus
}

// Scheduler owns the sync state machine {Idle, Syncing}. At most one pass is
// in flight at any time, enforced by a single permit; overlapping triggers
// are dropped, not queued — the next natural trigger catches remaining work.
type Scheduler struct {
	reconciler syncpkg.RecordReconciler
	queue      *queue.Queue
	records    *store.Records
	kv         store.KV
	session    remote.Session
	config     *Config

	permit *semaphore.Weighted
	signal chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	isForeground bool
	failureCount int
	lastSyncAt   *time.Time
	subscribers  []func(models.SyncStatus)
}

// New creates a Scheduler. A nil config uses DefaultConfig. The last
// successful sync timestamp is restored from the local store.
func New(reconciler syncpkg.RecordReconciler, q *queue.Queue, records *store.Records, kv store.KV, session remote.Session, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}

	s := &Scheduler{
		reconciler:   reconciler,
		queue:        q,
		records:      records,
		kv:           kv,
		session:      session,
		config:       config,
		permit:       semaphore.NewWeighted(1),
		signal:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		isOnline:     true,
		isForeground: true,
	}

	if data, ok, err := kv.Get(store.KeyLastSync); err == nil && ok {
		if t, err := time.Parse(time.RFC3339, string(data)); err == nil {
			s.lastSyncAt = &t
		}
	}

	return s
}

// Start launches the worker and timer goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.workerLoop(ctx)
	go s.timerLoop(ctx)

	logging.Info("Sync scheduler started", nil)
}

// Stop stops the scheduler gracefully. An in-flight pass is not aborted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// SetOnline records a connectivity transition. The offline-to-online edge
// requests a sync pass.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = online
	s.mu.Unlock()

	if wasOnline != online {
		logging.Info("Connectivity changed",
			map[string]interface{}{"is_online": online})
	}
	if !wasOnline && online {
		s.requestSync()
	}
	s.notify()
}

// SetForeground records an app-lifecycle transition. Both edges request a
// pass: entering foreground catches up, leaving triggers a best-effort final
// attempt.
func (s *Scheduler) SetForeground(foreground bool) {
	s.mu.Lock()
	changed := s.isForeground != foreground
	s.isForeground = foreground
	s.mu.Unlock()

	if changed {
		s.requestSync()
	}
}

// Enqueue records a local mutation for remote propagation and requests a
// sync pass.
func (s *Scheduler) Enqueue(rec *models.WorkRecord, action models.SyncAction) error {
	if err := s.queue.Enqueue(rec, action); err != nil {
		return err
	}
	s.notify()
	s.requestSync()
	return nil
}

// ForceSync runs a pass synchronously. When a pass is already in flight it
// answers immediately with the current status instead of queuing a second
// one.
func (s *Scheduler) ForceSync(ctx context.Context) Result {
	if !s.permit.TryAcquire(1) {
		return Result{
			Started: false,
			Error:   "sync already in progress",
			Status:  s.Status(),
		}
	}
	defer s.permit.Release(1)

	ok, err := s.runPass(ctx)
	res := Result{
		Started: true,
		Success: ok,
		Status:  s.Status(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// ClearQueue drops all pending items. Invoked on sign-out.
func (s *Scheduler) ClearQueue() error {
	err := s.queue.Clear()
	s.notify()
	return err
}

// Status returns a snapshot of the current sync status.
func (s *Scheduler) Status() models.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := models.SyncStatus{
		HasPendingChanges: s.queue.Len() > 0,
		FailureCount:      s.failureCount,
		IsOnline:          s.isOnline,
		Degraded:          s.failureCount >= s.config.FailureThreshold,
	}
	if s.lastSyncAt != nil {
		t := *s.lastSyncAt
		status.LastSyncAt = &t
	}
	return status
}

// Subscribe registers a status-change observer. Observers are invoked on
// their own goroutine and must not be relied on for ordering.
func (s *Scheduler) Subscribe(fn func(models.SyncStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// requestSync posts a coalescing signal onto the worker intake. Multiple
// pending signals collapse to one pass.
func (s *Scheduler) requestSync() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// workerLoop drains sync-requested signals. Single logical worker: this is
// the only goroutine that runs passes from triggers.
func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.signal:
			s.attemptSync(ctx)
		}
	}
}

// timerLoop fires the periodic trigger while foregrounded and online.
func (s *Scheduler) timerLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			due := s.isOnline && s.isForeground
			s.mu.RUnlock()
			if due {
				s.requestSync()
			}
		}
	}
}

// attemptSync runs one pass if no other pass holds the permit. Losing the
// race is not an error; the trigger is simply dropped.
func (s *Scheduler) attemptSync(ctx context.Context) {
	if !s.permit.TryAcquire(1) {
		logging.Debug("Sync already in progress, dropping trigger", nil)
		return
	}
	defer s.permit.Release(1)

	s.mu.RLock()
	online := s.isOnline
	s.mu.RUnlock()
	if !online {
		logging.Debug("Offline, skipping sync pass", nil)
		return
	}

	if _, err := s.runPass(ctx); err != nil {
		logging.Error("Sync pass failed", err, nil)
	}
}

// runPass executes one sync pass: queue drain followed by a full-corpus
// reconciliation sweep. Caller must hold the permit.
func (s *Scheduler) runPass(ctx context.Context) (bool, error) {
	// Unauthenticated state is not worth retrying: clear intent silently.
	if _, ok := s.session.CurrentUser(); !ok {
		logging.Info("No active session, clearing sync queue", nil)
		if err := s.queue.Clear(); err != nil {
			logging.Error("Failed to clear queue", err, nil)
		}
		s.notify()
		return false, nil
	}

	start := time.Now()
	total := &syncpkg.Outcome{}

	outcome, dropped, err := s.queue.DrainOnce(ctx, s.reconciler)
	total.Add(outcome)
	if err != nil {
		s.recordFailure()
		return false, err
	}
	if dropped > 0 {
		logging.Warn("Dropped sync items past retry ceiling",
			map[string]interface{}{"dropped": dropped})
	}

	// Full-corpus pass catches records mutated without an explicit enqueue.
	corpusErr := s.reconcileCorpus(ctx, total)
	if corpusErr != nil {
		s.recordFailure()
		return false, corpusErr
	}

	if total.Failed > 0 || dropped > 0 {
		s.recordFailure()
		logging.Warn("Sync pass finished with failures",
			map[string]interface{}{
				"synced":      total.Synced,
				"failed":      total.Failed,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		return false, nil
	}

	s.recordSuccess()
	logging.Info("Sync pass completed",
		map[string]interface{}{
			"synced":      total.Synced,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	return true, nil
}

// reconcileCorpus reconciles every local record sequentially with a small
// fixed delay between records.
func (s *Scheduler) reconcileCorpus(ctx context.Context, total *syncpkg.Outcome) error {
	records, err := s.records.LoadAll()
	if err != nil {
		logging.Error("Failed to load record corpus", err, nil)
		return nil
	}

	for i, rec := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		outcome, err := s.reconciler.Reconcile(ctx, rec)
		if err != nil && apperrors.Is(err, apperrors.ErrNotAuthenticated) {
			return err
		}
		if outcome != nil {
			total.Add(outcome)
		} else if err != nil {
			total.Add(&syncpkg.Outcome{Failed: 1})
		}

		if i < len(records)-1 && s.config.InterRecordDelay > 0 {
			time.Sleep(s.config.InterRecordDelay)
		}
	}
	return nil
}

func (s *Scheduler) recordSuccess() {
	now := time.Now()

	s.mu.Lock()
	s.failureCount = 0
	s.lastSyncAt = &now
	s.mu.Unlock()

	// Persistence failure here only loses the timestamp, never the pass.
	if err := s.kv.Set(store.KeyLastSync, []byte(now.Format(time.RFC3339))); err != nil {
		logging.Error("Failed to persist last sync timestamp", err, nil)
	}

	s.notify()
}

func (s *Scheduler) recordFailure() {
	s.mu.Lock()
	s.failureCount++
	count := s.failureCount
	threshold := s.config.FailureThreshold
	s.mu.Unlock()

	if count == threshold {
		logging.Warn("Consecutive sync failures crossed threshold",
			map[string]interface{}{"failure_count": count})
	}

	s.notify()
}

// notify dispatches a status snapshot to every subscriber without blocking
// the worker.
func (s *Scheduler) notify() {
	status := s.Status()

	s.mu.RLock()
	subs := make([]func(models.SyncStatus), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, fn := range subs {
		go fn(status)
	}
}
