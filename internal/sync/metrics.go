package sync

import (
	gosync "sync"
	"time"
)

// Metrics is the process-wide accumulator for completed sync passes.
//
// It is observational, not a correctness input: it is never persisted, and a
// restart resetting it is acceptable. Reset only happens on explicit request.
type Metrics struct {
	mu gosync.Mutex

	totalSynced       int64
	totalFailed       int64
	conflictsResolved int64

	completedRuns int64
	avgDuration   time.Duration
	lastSync      time.Time
}

// MetricsSnapshot is a point-in-time copy for dashboards.
type MetricsSnapshot struct {
	TotalSynced       int64         `json:"total_synced"`
	TotalFailed       int64         `json:"total_failed"`
	ConflictsResolved int64         `json:"conflicts_resolved"`
	AverageDuration   time.Duration `json:"average_sync_duration"`
	LastSync          time.Time     `json:"last_sync_timestamp"`
}

// NewMetrics creates a zeroed accumulator.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRun folds one completed pass into the counters and the running
// average duration.
func (m *Metrics) RecordRun(d time.Duration, synced, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalSynced += int64(synced)
	m.totalFailed += int64(failed)
	m.completedRuns++
	m.avgDuration += (d - m.avgDuration) / time.Duration(m.completedRuns)
	m.lastSync = time.Now().UTC()
}

// RecordConflictResolved increments the resolved-conflict counter. Conflicts
// are not failures and never count toward total_failed.
func (m *Metrics) RecordConflictResolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflictsResolved++
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MetricsSnapshot{
		TotalSynced:       m.totalSynced,
		TotalFailed:       m.totalFailed,
		ConflictsResolved: m.conflictsResolved,
		AverageDuration:   m.avgDuration,
		LastSync:          m.lastSync,
	}
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalSynced = 0
	m.totalFailed = 0
	m.conflictsResolved = 0
	m.completedRuns = 0
	m.avgDuration = 0
	m.lastSync = time.Time{}
}
