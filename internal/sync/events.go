package sync

import (
	"log"
	"os"
	gosync "sync"
)

// Event names emitted by the engine. Consumed by the dashboard and CLI.
type Event string

const (
	EventSyncStarted   Event = "sync:started"
	EventSyncProgress  Event = "sync:progress"
	EventSyncCompleted Event = "sync:completed"
	EventSyncFailed    Event = "sync:failed"
	EventSyncPaused    Event = "sync:paused"
	EventSyncResumed   Event = "sync:resumed"

	EventConflictDetected Event = "conflict:detected"
	EventConflictResolved Event = "conflict:resolved"
	EventConflictManual   Event = "conflict:manual_required"
)

// ProgressPayload accompanies sync:progress. Processed counts every settled
// item (success, failure, or conflict hand-off) and never decreases within
// a run.
type ProgressPayload struct {
	RunID     string `json:"run_id"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// RunPayload accompanies sync:started, sync:completed, and sync:failed.
type RunPayload struct {
	Run SyncRun `json:"run"`
}

// ConflictPayload accompanies conflict events.
type ConflictPayload struct {
	Record    *ConflictRecord `json:"record"`
	Automated bool            `json:"automated,omitempty"`
}

// Handler receives an event payload. Handlers run synchronously on the
// emitter's goroutine.
type Handler func(payload any)

type subscription struct {
	id int
	fn Handler
}

// Bus is a synchronous publish/subscribe hub keyed by event name.
//
// A panicking handler is recovered and logged, never propagated: a broken
// subscriber must not abort a sync pass.
type Bus struct {
	mu       gosync.RWMutex
	handlers map[Event][]subscription
	nextID   int
	logger   *log.Logger
}

// NewBus creates an event bus. If logger is nil, a default logger writing to
// stderr is used.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Bus{
		handlers: make(map[Event][]subscription),
		logger:   logger,
	}
}

// On registers a handler for an event and returns a token for Off.
func (b *Bus) On(event Event, fn Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[event] = append(b.handlers[event], subscription{id: b.nextID, fn: fn})
	return b.nextID
}

// Off removes a previously registered handler. Unknown tokens are ignored.
func (b *Bus) Off(event Event, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i, s := range subs {
		if s.id == id {
			b.handlers[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers the payload to every handler registered for the event.
func (b *Bus) Emit(event Event, payload any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[event]))
	copy(subs, b.handlers[event])
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(event, s, payload)
	}
}

func (b *Bus) dispatch(event Event, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Handler for %s panicked: %v", event, r)
		}
	}()
	s.fn(payload)
}
