package sync

import (
	"sort"
	"time"
)

// DefaultBatchSize bounds concurrent Transport calls per scheduling round.
const DefaultBatchSize = 5

// Scheduler turns an unordered candidate set into an ordered sequence of
// bounded-size batches, and maps link quality to the inter-batch delay that
// keeps the engine from saturating a 2G-class connection.
type Scheduler struct {
	batchSize        int
	prioritizeUrgent bool
}

// NewScheduler creates a scheduler. batchSize <= 0 falls back to the
// default. When prioritizeUrgent is false, ordering is pure FIFO.
func NewScheduler(batchSize int, prioritizeUrgent bool) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{
		batchSize:        batchSize,
		prioritizeUrgent: prioritizeUrgent,
	}
}

// BatchSize returns the configured bound on concurrent submissions.
func (s *Scheduler) BatchSize() int { return s.batchSize }

// Order sorts items by priority weight descending, ties broken by created_at
// ascending. Urgent work is never starved behind a long low-priority
// backlog; within one priority class, order follows creation order. The
// input slice is not modified.
func (s *Scheduler) Order(items []*WorkItem) []*WorkItem {
	ordered := make([]*WorkItem, len(items))
	copy(ordered, items)

	sort.SliceStable(ordered, func(i, j int) bool {
		if s.prioritizeUrgent && ordered[i].Priority.Weight() != ordered[j].Priority.Weight() {
			return ordered[i].Priority.Weight() > ordered[j].Priority.Weight()
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	return ordered
}

// Batches chunks an ordered slice into batches of at most batchSize items.
func (s *Scheduler) Batches(items []*WorkItem) [][]*WorkItem {
	var batches [][]*WorkItem
	for len(items) > 0 {
		n := s.batchSize
		if n > len(items) {
			n = len(items)
		}
		batches = append(batches, items[:n])
		items = items[n:]
	}
	return batches
}

// Delay maps a quality class to the pause before the next batch. ok is false
// when the pass must abort (offline).
func (s *Scheduler) Delay(q Quality) (delay time.Duration, ok bool) {
	switch q {
	case QualityOffline:
		return 0, false
	case QualitySlow:
		return 2000 * time.Millisecond, true
	case QualityMediumLow:
		return 1000 * time.Millisecond, true
	case QualityMedium:
		return 500 * time.Millisecond, true
	default:
		return 100 * time.Millisecond, true
	}
}
