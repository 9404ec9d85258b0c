package sync

import (
	"context"
	"time"
)

// Store is the durable WorkItem queue the engine drains.
//
// The engine is the only writer on a device, so the store only needs
// read-your-writes consistency for a single client; no cross-process locking
// is required. Implementations must keep items until Remove is called —
// failed and conflicted items stay visible for diagnostics and later passes.
type Store interface {
	// Enqueue persists a new WorkItem. The item's ID must be unique.
	Enqueue(ctx context.Context, item *WorkItem) error

	// List returns items whose status is in the given set, in creation
	// order. An empty set returns every item.
	List(ctx context.Context, statuses ...Status) ([]*WorkItem, error)

	// Get returns the item with the given ID.
	Get(ctx context.Context, id string) (*WorkItem, error)

	// Update persists the item's mutable fields (status, attempts,
	// last_error, override, payload).
	Update(ctx context.Context, item *WorkItem) error

	// Remove deletes an item. Removing an unknown ID is not an error.
	Remove(ctx context.Context, id string) error

	// LastSyncedAt returns the watermark of the last successful full or
	// incremental pass. The zero time means no pass has completed yet.
	LastSyncedAt(ctx context.Context) (time.Time, error)

	// SetLastSyncedAt advances the watermark.
	SetLastSyncedAt(ctx context.Context, t time.Time) error
}

// ConflictStore persists ConflictRecords awaiting or carrying a resolution.
type ConflictStore interface {
	SaveConflict(ctx context.Context, rec *ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*ConflictRecord, error)
	UpdateConflict(ctx context.Context, rec *ConflictRecord) error

	// ListConflicts returns records, pending-only when onlyPending is set,
	// ordered by detection time.
	ListConflicts(ctx context.Context, onlyPending bool) ([]*ConflictRecord, error)
}

// Transport submits one WorkItem to the remote system.
//
// The return value encodes the outcome: nil for success, *TransientError for
// a retryable failure, *ConflictError when the server holds a divergent
// version, and any other error for a permanent rejection. Implementations
// must treat item.ID as an idempotency key and honor item.Override as the
// instruction to overwrite the server's copy.
type Transport interface {
	Submit(ctx context.Context, item *WorkItem) error
}

// Quality is the coarse link-quality class reported by the NetworkMonitor.
type Quality int

const (
	QualityOffline Quality = iota
	QualitySlow
	QualityMediumLow
	QualityMedium
	QualityFast
)

// String returns a human-readable quality name.
func (q Quality) String() string {
	switch q {
	case QualityOffline:
		return "offline"
	case QualitySlow:
		return "slow"
	case QualityMediumLow:
		return "medium_low"
	case QualityMedium:
		return "medium"
	case QualityFast:
		return "fast"
	default:
		return "unknown"
	}
}

// NetworkMonitor reports connectivity state and a coarse quality class.
//
// Subscribers are notified on online/offline transitions only, not on
// quality changes within the online range.
type NetworkMonitor interface {
	// Quality returns the current link quality class.
	Quality() Quality

	// Online reports whether the link is usable at all.
	Online() bool

	// Subscribe registers a transition callback and returns an
	// unsubscribe function. The callback receives true when the link
	// comes up and false when it goes down.
	Subscribe(fn func(online bool)) (unsubscribe func())
}
