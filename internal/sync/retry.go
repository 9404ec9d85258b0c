package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// MaxAttemptCeiling is the hard upper bound on physical attempts per item,
// regardless of the configured retry budget.
const MaxAttemptCeiling = 5

// DefaultRemoveGrace is how long a succeeded item stays in the store so a UI
// can show its completion state before it disappears.
const DefaultRemoveGrace = 30 * time.Second

// RetryController drives one WorkItem's submission lifecycle: in_flight,
// exponential backoff on transient failure, conflict hand-off, and the
// attempt ceiling. One call to Submit is one logical submission even when it
// spans several physical attempts.
type RetryController struct {
	store      Store
	transport  Transport
	maxRetries int
	grace      time.Duration
	logger     *log.Logger

	// backoff and sleep are injectable for tests.
	backoff func(attempt int) time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryController creates a controller. maxRetries <= 0 falls back to the
// ceiling; grace < 0 falls back to the default. If logger is nil, a default
// logger writing to stderr is used.
func NewRetryController(store Store, transport Transport, maxRetries int, grace time.Duration, logger *log.Logger) *RetryController {
	if maxRetries <= 0 {
		maxRetries = MaxAttemptCeiling
	}
	if grace < 0 {
		grace = DefaultRemoveGrace
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[retry] ", log.LstdFlags)
	}
	return &RetryController{
		store:      store,
		transport:  transport,
		maxRetries: maxRetries,
		grace:      grace,
		logger:     logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
		sleep: sleepContext,
	}
}

// Submit drives the item to a settled state.
//
// Returns nil on success, *ConflictError when the server rejected with a
// divergent version (the item is left in conflicted status for the
// Resolver), *ExhaustedError when the retry budget ran out, or another error
// for a permanent rejection. In the last two cases the item is marked failed
// with last_error retained.
//
// The effective attempt ceiling is min(attempts_so_far + maxRetries,
// MaxAttemptCeiling): an item that already burned attempts in an earlier
// pass does not get a fresh full budget.
func (c *RetryController) Submit(ctx context.Context, item *WorkItem) error {
	ceiling := item.Attempts + c.maxRetries
	if ceiling > MaxAttemptCeiling {
		ceiling = MaxAttemptCeiling
	}
	if item.Attempts >= ceiling {
		return c.fail(ctx, item, &ExhaustedError{
			ItemID:   item.ID,
			Attempts: item.Attempts,
			Last:     errors.New(item.LastError),
		})
	}
	return c.attempt(ctx, item, ceiling)
}

// attempt performs one physical submission and recurses after backoff on
// transient failure. Bounded by the ceiling, so recursion depth is at most
// MaxAttemptCeiling.
func (c *RetryController) attempt(ctx context.Context, item *WorkItem, ceiling int) error {
	item.Status = StatusInFlight
	if err := c.store.Update(ctx, item); err != nil {
		return fmt.Errorf("failed to mark item in flight: %w", err)
	}

	err := c.transport.Submit(ctx, item)
	if err == nil {
		return c.succeed(ctx, item)
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		// Short-circuit: conflicts are never retried as failures.
		item.Status = StatusConflicted
		if uerr := c.store.Update(ctx, item); uerr != nil {
			c.logger.Printf("Warning: failed to mark item %s conflicted: %v", item.ID, uerr)
		}
		return conflict
	}

	var transient *TransientError
	if !errors.As(err, &transient) {
		// Permanent rejection: no retry budget applies.
		return c.fail(ctx, item, err)
	}

	item.Attempts++
	item.LastError = transient.Error()
	if err := c.store.Update(ctx, item); err != nil {
		c.logger.Printf("Warning: failed to record attempt for %s: %v", item.ID, err)
	}

	if item.Attempts >= ceiling {
		return c.fail(ctx, item, &ExhaustedError{
			ItemID:   item.ID,
			Attempts: item.Attempts,
			Last:     transient,
		})
	}

	delay := c.backoff(item.Attempts)
	c.logger.Printf("Item %s attempt %d/%d failed, retrying in %v: %v",
		item.ID, item.Attempts, ceiling, delay, transient)
	if err := c.sleep(ctx, delay); err != nil {
		return c.fail(ctx, item, err)
	}

	return c.attempt(ctx, item, ceiling)
}

// succeed marks the item succeeded and schedules its removal after the grace
// period so a UI can still show the completion state.
func (c *RetryController) succeed(ctx context.Context, item *WorkItem) error {
	item.Status = StatusSucceeded
	item.LastError = ""
	if err := c.store.Update(ctx, item); err != nil {
		return fmt.Errorf("failed to mark item succeeded: %w", err)
	}

	c.scheduleRemoval(item.ID)
	return nil
}

// scheduleRemoval removes a succeeded item after the grace period. A grace
// of zero removes immediately.
func (c *RetryController) scheduleRemoval(id string) {
	remove := func() {
		if err := c.store.Remove(context.Background(), id); err != nil {
			c.logger.Printf("Warning: failed to remove succeeded item %s: %v", id, err)
		}
	}
	if c.grace == 0 {
		remove()
		return
	}
	time.AfterFunc(c.grace, remove)
}

// fail marks the item failed, retains the error, and propagates it so the
// batch's progress accounting stays correct.
func (c *RetryController) fail(ctx context.Context, item *WorkItem, cause error) error {
	item.Status = StatusFailed
	item.LastError = cause.Error()
	if err := c.store.Update(ctx, item); err != nil {
		c.logger.Printf("Warning: failed to mark item %s failed: %v", item.ID, err)
	}
	return cause
}

// sleepContext is a context-aware sleep.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
