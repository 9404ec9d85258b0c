package sync

import (
	"errors"
	"fmt"
)

// ErrOffline is returned when a pass is requested while the NetworkMonitor
// reports no connectivity, or when the link drops mid-pass. It is fatal to
// that call only; queued items are left untouched for the next attempt.
var ErrOffline = errors.New("network offline")

// ErrPassInProgress is returned when a pass is triggered while another pass
// is running. The trigger is dropped, not queued.
var ErrPassInProgress = errors.New("sync pass already in progress")

// TransientError is a retryable submission failure (timeouts, 5xx, broken
// connections). The RetryController resubmits with backoff until the attempt
// ceiling is reached.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient failure: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ConflictError reports that the server holds a divergent version of the
// same logical resource. It is never retried as a failure; the Resolver
// decides what happens next.
type ConflictError struct {
	Remote Snapshot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict with remote version of %s", e.Remote.ItemID)
}

// ExhaustedError is terminal for one item in one pass: the retry budget ran
// out. The item is marked failed and left in the store; data is never
// silently dropped.
type ExhaustedError struct {
	ItemID   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("item %s failed after %d attempts: %v", e.ItemID, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
