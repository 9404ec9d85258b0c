package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// DefaultAutoResolveWindow is the divergence window inside which a conflict
// is considered low-stakes and resolved automatically. The threshold is a
// policy knob, not a correctness requirement; at exactly the window the
// conflict goes to manual resolution.
const DefaultAutoResolveWindow = 5 * time.Minute

// Resolver classifies a conflict as auto-resolvable or requiring manual
// intervention, and applies the chosen resolution.
//
// Auto-resolution is last-write-wins by timestamp: conflicts from
// near-simultaneous edits are assumed low-stakes, while long-diverged state
// is assumed to carry meaningful differences and is never silently
// discarded.
type Resolver struct {
	store     Store
	conflicts ConflictStore
	transport Transport
	bus       *Bus
	metrics   *Metrics
	window    time.Duration
	logger    *log.Logger

	now func() time.Time
}

// NewResolver creates a resolver. window <= 0 falls back to the default. If
// logger is nil, a default logger writing to stderr is used.
func NewResolver(store Store, conflicts ConflictStore, transport Transport, bus *Bus, metrics *Metrics, window time.Duration, logger *log.Logger) *Resolver {
	if window <= 0 {
		window = DefaultAutoResolveWindow
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[conflict] ", log.LstdFlags)
	}
	if bus == nil {
		bus = NewBus(logger)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Resolver{
		store:     store,
		conflicts: conflicts,
		transport: transport,
		bus:       bus,
		metrics:   metrics,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// Resolve handles a conflict reported by the Transport for the given item.
//
// If the local and remote timestamps diverge by strictly less than the
// window, the conflict is resolved automatically by last-write-wins:
// server_wins marks the item succeeded without resubmission, local_wins
// resubmits with the force-override indicator. Otherwise the record is
// persisted as pending, conflict:manual_required is emitted with both
// snapshots, and the item stays conflicted until ApplyResolution is called.
func (r *Resolver) Resolve(ctx context.Context, item *WorkItem, remote Snapshot) (*ConflictRecord, error) {
	rec := NewConflictRecord(item, remote, r.now().UTC())
	r.bus.Emit(EventConflictDetected, ConflictPayload{Record: rec})

	divergence := item.CreatedAt.Sub(remote.CreatedAt)
	if divergence < 0 {
		divergence = -divergence
	}

	if divergence >= r.window {
		if err := r.conflicts.SaveConflict(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist conflict: %w", err)
		}
		r.logger.Printf("Conflict %s on item %s requires manual resolution (diverged %v)",
			rec.ID, item.ID, divergence)
		r.bus.Emit(EventConflictManual, ConflictPayload{Record: rec})
		return rec, nil
	}

	if remote.CreatedAt.After(item.CreatedAt) {
		if err := r.serverWins(ctx, rec, item); err != nil {
			return nil, err
		}
	} else {
		if err := r.localWins(ctx, rec, item); err != nil {
			return nil, err
		}
	}

	if err := r.conflicts.SaveConflict(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist conflict: %w", err)
	}

	r.metrics.RecordConflictResolved()
	r.bus.Emit(EventConflictResolved, ConflictPayload{Record: rec, Automated: true})
	return rec, nil
}

// serverWins discards the local payload: the item is marked succeeded
// without resubmission and removed on the usual path.
func (r *Resolver) serverWins(ctx context.Context, rec *ConflictRecord, item *WorkItem) error {
	item.Status = StatusSucceeded
	item.LastError = ""
	if err := r.store.Update(ctx, item); err != nil {
		return fmt.Errorf("failed to apply server_wins: %w", err)
	}
	rec.Resolution = ResolutionServerWins
	r.logger.Printf("Conflict on item %s auto-resolved: server wins", item.ID)
	return nil
}

// localWins resubmits the local payload with the force-override indicator so
// the server overwrites its copy.
func (r *Resolver) localWins(ctx context.Context, rec *ConflictRecord, item *WorkItem) error {
	item.Override = true

	err := r.transport.Submit(ctx, item)
	switch {
	case err == nil:
		item.Status = StatusSucceeded
		item.LastError = ""
	default:
		// The override submission will be retried on the next pass.
		item.Status = StatusQueued
		item.LastError = err.Error()
		r.logger.Printf("Override resubmission of %s deferred: %v", item.ID, err)
	}

	if uerr := r.store.Update(ctx, item); uerr != nil {
		return fmt.Errorf("failed to apply local_wins: %w", uerr)
	}
	rec.Resolution = ResolutionLocalWins
	r.logger.Printf("Conflict on item %s auto-resolved: local wins", item.ID)
	return nil
}

// ApplyResolution applies a manual decision to a pending conflict.
//
// keep_remote marks the WorkItem succeeded without resubmission. keep_local
// requeues it with the force-override indicator. merged_payload replaces the
// payload with the merged bytes and requeues with override. Every applied
// resolution increments conflicts_resolved and emits conflict:resolved.
func (r *Resolver) ApplyResolution(ctx context.Context, conflictID string, choice Choice, merged []byte) error {
	rec, err := r.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("failed to load conflict %s: %w", conflictID, err)
	}
	if rec.Resolution != ResolutionPending {
		return fmt.Errorf("conflict %s already resolved (%s)", conflictID, rec.Resolution)
	}

	item, err := r.store.Get(ctx, rec.WorkItemID)
	if err != nil {
		return fmt.Errorf("failed to load work item %s: %w", rec.WorkItemID, err)
	}

	switch choice {
	case ChoiceKeepRemote:
		item.Status = StatusSucceeded
		item.LastError = ""
	case ChoiceKeepLocal:
		item.Status = StatusQueued
		item.Override = true
	case ChoiceMergedPayload:
		if len(merged) == 0 {
			return errors.New("merged_payload resolution requires a payload")
		}
		item.Payload = merged
		item.Status = StatusQueued
		item.Override = true
	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}

	if err := r.store.Update(ctx, item); err != nil {
		return fmt.Errorf("failed to update work item %s: %w", item.ID, err)
	}

	rec.Resolution = ResolutionManual
	if err := r.conflicts.UpdateConflict(ctx, rec); err != nil {
		return fmt.Errorf("failed to update conflict %s: %w", rec.ID, err)
	}

	r.metrics.RecordConflictResolved()
	r.bus.Emit(EventConflictResolved, ConflictPayload{Record: rec, Automated: false})
	r.logger.Printf("Conflict %s resolved manually: %s", rec.ID, choice)
	return nil
}
