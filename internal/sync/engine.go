package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Mode identifies how a pass selects and drives its candidate set.
type Mode string

const (
	// ModeFull drains every queued and still-retryable failed item.
	ModeFull Mode = "full"
	// ModeIncremental restricts to items created after the last successful
	// pass, plus failed items so transient failures are retried on the
	// next tick instead of waiting for the next full pass.
	ModeIncremental Mode = "incremental"
	// ModeProgressive drives the full candidate set as background chunks.
	ModeProgressive Mode = "progressive"
)

// SyncRun describes one pass. It exists only for the duration of the pass
// and is emitted via events; it is never persisted.
type SyncRun struct {
	ID             string        `json:"run_id"`
	Mode           Mode          `json:"mode"`
	StartedAt      time.Time     `json:"started_at"`
	ItemsTotal     int           `json:"items_total"`
	ItemsProcessed int           `json:"items_processed"`
	ItemsFailed    int           `json:"items_failed"`
	ConflictsFound int           `json:"conflicts_found"`
	Duration       time.Duration `json:"duration"`
}

// Config holds the engine's tunables.
type Config struct {
	// SyncInterval is the auto-sync timer period.
	SyncInterval time.Duration

	// MaxRetries is the per-item retry budget per pass.
	MaxRetries int

	// BatchSize bounds concurrent submissions per scheduling round.
	BatchSize int

	// EnableConflictResolution routes Conflict outcomes through the
	// Resolver. When false, any conflict is treated as a fatal per-item
	// error.
	EnableConflictResolution bool

	// EnableProgressiveSync makes the auto-sync timer run chunked
	// background passes instead of a single incremental pass.
	EnableProgressiveSync bool

	// PrioritizeUrgent enables priority ordering; false falls back to
	// pure FIFO.
	PrioritizeUrgent bool

	// AutoResolveWindow is the divergence window for automatic conflict
	// resolution.
	AutoResolveWindow time.Duration

	// RemoveGrace is how long succeeded items linger before removal.
	// Negative means the default; zero removes immediately.
	RemoveGrace time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for a field device.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:             30 * time.Second,
		MaxRetries:               MaxAttemptCeiling,
		BatchSize:                DefaultBatchSize,
		EnableConflictResolution: true,
		EnableProgressiveSync:    false,
		PrioritizeUrgent:         true,
		AutoResolveWindow:        DefaultAutoResolveWindow,
		RemoveGrace:              DefaultRemoveGrace,
		Logger:                   log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Engine is the single authority deciding when a sync pass runs and which
// mode it uses.
type Engine struct {
	store     Store
	conflicts ConflictStore
	transport Transport
	monitor   NetworkMonitor

	cfg       *Config
	bus       *Bus
	metrics   *Metrics
	scheduler *Scheduler
	retry     *RetryController
	resolver  *Resolver
	logger    *log.Logger

	// running guards the single active pass. A trigger while a pass runs
	// is dropped, not queued.
	running atomic.Bool
	paused  atomic.Bool

	timerMu     gosync.Mutex
	timerCancel context.CancelFunc
	timerCtx    context.Context
	unsubscribe func()
	wg          gosync.WaitGroup
}

// New creates an Engine wired to the given collaborators. A nil config uses
// DefaultConfig.
func New(store Store, conflicts ConflictStore, transport Transport, monitor NetworkMonitor, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.RemoveGrace < 0 {
		cfg.RemoveGrace = DefaultRemoveGrace
	}

	bus := NewBus(cfg.Logger)
	metrics := NewMetrics()

	return &Engine{
		store:     store,
		conflicts: conflicts,
		transport: transport,
		monitor:   monitor,
		cfg:       cfg,
		bus:       bus,
		metrics:   metrics,
		scheduler: NewScheduler(cfg.BatchSize, cfg.PrioritizeUrgent),
		retry:     NewRetryController(store, transport, cfg.MaxRetries, cfg.RemoveGrace, cfg.Logger),
		resolver:  NewResolver(store, conflicts, transport, bus, metrics, cfg.AutoResolveWindow, cfg.Logger),
		logger:    cfg.Logger,
	}
}

// Bus returns the engine's event bus for subscribers.
func (e *Engine) Bus() *Bus { return e.bus }

// Metrics returns the engine's metrics accumulator.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Resolver returns the conflict resolver, for manual resolution surfaces.
func (e *Engine) Resolver() *Resolver { return e.resolver }

// StartAutoSync begins the recurring sync timer. No-op if the timer is
// already running. The engine subscribes to the NetworkMonitor: going
// offline pauses future ticks (an in-flight pass finishes), coming back
// online resumes and immediately triggers one incremental pass.
func (e *Engine) StartAutoSync() error {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()

	if e.timerCancel != nil {
		return nil
	}

	interval := e.cfg.SyncInterval
	if interval <= 0 {
		return fmt.Errorf("invalid sync interval %v", interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.timerCtx = ctx
	e.timerCancel = cancel

	if !e.monitor.Online() {
		e.paused.Store(true)
	}

	e.unsubscribe = e.monitor.Subscribe(func(online bool) {
		if online {
			e.Resume()
		} else {
			e.Pause()
		}
	})

	e.wg.Add(1)
	go e.tickLoop(ctx, interval)

	e.logger.Printf("Auto-sync started (interval %v)", interval)
	return nil
}

// StopAutoSync cancels the timer. Idempotent. An in-flight pass is allowed
// to finish; only future ticks are cancelled.
func (e *Engine) StopAutoSync() {
	e.timerMu.Lock()
	cancel := e.timerCancel
	unsub := e.unsubscribe
	e.timerCancel = nil
	e.timerCtx = nil
	e.unsubscribe = nil
	e.timerMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if unsub != nil {
		unsub()
	}
	e.wg.Wait()
	e.logger.Println("Auto-sync stopped")
}

// tickLoop runs scheduled passes until the timer context is cancelled.
func (e *Engine) tickLoop(ctx context.Context, interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.paused.Load() {
				continue
			}
			e.tick(ctx)
		}
	}
}

// tick runs one scheduled pass. Drops silently when a pass is active or the
// link is down; both are expected conditions, not errors.
func (e *Engine) tick(ctx context.Context) {
	var err error
	if e.cfg.EnableProgressiveSync {
		_, err = e.ProgressiveSync(ctx)
	} else {
		_, err = e.IncrementalSync(ctx)
	}
	if err != nil && !errors.Is(err, ErrPassInProgress) && !errors.Is(err, ErrOffline) {
		e.logger.Printf("Scheduled sync failed: %v", err)
	}
}

// Pause suppresses future ticks without cancelling an in-flight pass.
// Invoked by the NetworkMonitor on offline transitions.
func (e *Engine) Pause() {
	if e.paused.CompareAndSwap(false, true) {
		e.logger.Println("Sync paused")
		e.bus.Emit(EventSyncPaused, nil)
	}
}

// Resume re-enables ticks and immediately triggers exactly one incremental
// pass. Overlapping pause/resume calls cannot double-trigger: the
// compare-and-swap admits only the call that performs the transition.
func (e *Engine) Resume() {
	if !e.paused.CompareAndSwap(true, false) {
		return
	}
	e.logger.Println("Sync resumed")
	e.bus.Emit(EventSyncResumed, nil)

	ctx := context.Background()
	e.timerMu.Lock()
	if e.timerCtx != nil {
		ctx = e.timerCtx
	}
	e.timerMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.IncrementalSync(ctx); err != nil &&
			!errors.Is(err, ErrPassInProgress) && !errors.Is(err, ErrOffline) {
			e.logger.Printf("Resume sync failed: %v", err)
		}
	}()
}

// FullSync drives every queued and still-retryable failed item to
// completion. Fails with ErrOffline if the monitor reports no connectivity
// at call time.
func (e *Engine) FullSync(ctx context.Context) (*SyncRun, error) {
	items, err := e.fullCandidates(ctx)
	if err != nil {
		return nil, e.passFailed(ModeFull, err)
	}
	return e.runPass(ctx, ModeFull, items, true)
}

// IncrementalSync restricts the candidate set to items created after the
// last successful pass, plus any currently failed item with retry budget
// left.
func (e *Engine) IncrementalSync(ctx context.Context) (*SyncRun, error) {
	since, err := e.store.LastSyncedAt(ctx)
	if err != nil {
		return nil, e.passFailed(ModeIncremental, err)
	}

	queued, err := e.store.List(ctx, StatusQueued)
	if err != nil {
		return nil, e.passFailed(ModeIncremental, err)
	}

	var items []*WorkItem
	for _, it := range queued {
		if it.CreatedAt.After(since) {
			items = append(items, it)
		}
	}

	failed, err := e.retryableFailed(ctx)
	if err != nil {
		return nil, e.passFailed(ModeIncremental, err)
	}
	items = append(items, failed...)

	return e.runPass(ctx, ModeIncremental, items, true)
}

// ProgressiveSync registers the full candidate set as background work: the
// pass runs chunk by chunk on a background goroutine, yielding between
// scheduling rounds, instead of holding the caller for a single long pass.
// The returned run describes the registered pass; counts arrive via events.
func (e *Engine) ProgressiveSync(ctx context.Context) (*SyncRun, error) {
	if !e.monitor.Online() {
		return nil, ErrOffline
	}

	items, err := e.fullCandidates(ctx)
	if err != nil {
		return nil, e.passFailed(ModeProgressive, err)
	}

	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}

	run := &SyncRun{
		ID:         uuid.NewString(),
		Mode:       ModeProgressive,
		StartedAt:  time.Now().UTC(),
		ItemsTotal: len(items),
	}
	registered := *run

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		if err := e.drive(ctx, run, items); err != nil {
			e.logger.Printf("Progressive sync %s aborted: %v", run.ID, err)
		}
	}()

	return &registered, nil
}

// fullCandidates returns queued items plus failed items with budget left.
func (e *Engine) fullCandidates(ctx context.Context) ([]*WorkItem, error) {
	queued, err := e.store.List(ctx, StatusQueued)
	if err != nil {
		return nil, err
	}
	failed, err := e.retryableFailed(ctx)
	if err != nil {
		return nil, err
	}
	return append(queued, failed...), nil
}

// retryableFailed lists failed items that have not hit the hard attempt
// ceiling. Fully exhausted items stay in the store for operator action.
func (e *Engine) retryableFailed(ctx context.Context) ([]*WorkItem, error) {
	failed, err := e.store.List(ctx, StatusFailed)
	if err != nil {
		return nil, err
	}
	var retryable []*WorkItem
	for _, it := range failed {
		if it.Attempts < MaxAttemptCeiling {
			retryable = append(retryable, it)
		}
	}
	return retryable, nil
}

// runPass executes one synchronous pass over the candidate set.
func (e *Engine) runPass(ctx context.Context, mode Mode, items []*WorkItem, advanceWatermark bool) (*SyncRun, error) {
	if !e.monitor.Online() {
		return nil, ErrOffline
	}

	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrPassInProgress
	}
	defer e.running.Store(false)

	run := &SyncRun{
		ID:         uuid.NewString(),
		Mode:       mode,
		StartedAt:  time.Now().UTC(),
		ItemsTotal: len(items),
	}

	if err := e.drive(ctx, run, items); err != nil {
		return run, err
	}

	if advanceWatermark {
		if err := e.store.SetLastSyncedAt(ctx, run.StartedAt); err != nil {
			e.logger.Printf("Warning: failed to advance sync watermark: %v", err)
		}
	}
	return run, nil
}

// drive orders, chunks, and submits the items, emitting lifecycle events and
// folding the result into metrics. Per-item errors never abort the pass;
// only losing the link between batches does.
func (e *Engine) drive(ctx context.Context, run *SyncRun, items []*WorkItem) error {
	e.bus.Emit(EventSyncStarted, RunPayload{Run: *run})

	batches := e.scheduler.Batches(e.scheduler.Order(items))

	var mu gosync.Mutex
	synced := 0

	for i, batch := range batches {
		var wg gosync.WaitGroup
		for _, item := range batch {
			wg.Add(1)
			go func(item *WorkItem) {
				defer wg.Done()
				outcome := e.submit(ctx, item)

				mu.Lock()
				run.ItemsProcessed++
				switch outcome {
				case outcomeSucceeded:
					synced++
				case outcomeFailed:
					run.ItemsFailed++
				case outcomeConflict:
					run.ConflictsFound++
				}
				// Emitting under the lock keeps progress events in order
				// across concurrent submissions.
				e.bus.Emit(EventSyncProgress, ProgressPayload{
					RunID:     run.ID,
					Processed: run.ItemsProcessed,
					Total:     run.ItemsTotal,
				})
				mu.Unlock()
			}(item)
		}
		wg.Wait()

		if i < len(batches)-1 {
			delay, ok := e.scheduler.Delay(e.monitor.Quality())
			if !ok {
				run.Duration = time.Since(run.StartedAt)
				e.bus.Emit(EventSyncFailed, RunPayload{Run: *run})
				return ErrOffline
			}
			if err := sleepContext(ctx, delay); err != nil {
				run.Duration = time.Since(run.StartedAt)
				e.bus.Emit(EventSyncFailed, RunPayload{Run: *run})
				return err
			}
		}
	}

	run.Duration = time.Since(run.StartedAt)
	e.metrics.RecordRun(run.Duration, synced, run.ItemsFailed)
	e.bus.Emit(EventSyncCompleted, RunPayload{Run: *run})

	e.logger.Printf("Sync %s complete: mode=%s processed=%d failed=%d conflicts=%d in %v",
		run.ID, run.Mode, run.ItemsProcessed, run.ItemsFailed, run.ConflictsFound,
		run.Duration.Round(time.Millisecond))
	return nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeConflict
)

// submit drives one item through the RetryController and routes conflicts.
// Errors are converted to status updates and events here; they never abort
// the enclosing batch.
func (e *Engine) submit(ctx context.Context, item *WorkItem) outcome {
	err := e.retry.Submit(ctx, item)
	if err == nil {
		return outcomeSucceeded
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		if !e.cfg.EnableConflictResolution {
			item.Status = StatusFailed
			item.LastError = conflict.Error()
			if uerr := e.store.Update(ctx, item); uerr != nil {
				e.logger.Printf("Warning: failed to mark conflicted item %s failed: %v", item.ID, uerr)
			}
			return outcomeFailed
		}
		if _, rerr := e.resolver.Resolve(ctx, item, conflict.Remote); rerr != nil {
			e.logger.Printf("Warning: conflict resolution for %s failed: %v", item.ID, rerr)
		}
		return outcomeConflict
	}

	e.logger.Printf("Item %s failed: %v", item.ID, err)
	return outcomeFailed
}

// passFailed logs and reports a pass-level error (store unreachable and the
// like). Items are left untouched for the next attempt.
func (e *Engine) passFailed(mode Mode, err error) error {
	e.logger.Printf("Sync pass (%s) aborted: %v", mode, err)
	e.bus.Emit(EventSyncFailed, RunPayload{Run: SyncRun{Mode: mode}})
	return fmt.Errorf("sync pass aborted: %w", err)
}

// ResolveConflict is the manual resolution entry point consumed by UIs.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, choice Choice, merged []byte) error {
	return e.resolver.ApplyResolution(ctx, conflictID, choice, merged)
}
