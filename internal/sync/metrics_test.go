package sync

import (
	"testing"
	"time"
)

func TestMetricsRunningAverage(t *testing.T) {
	m := NewMetrics()

	m.RecordRun(2*time.Second, 5, 1)
	m.RecordRun(4*time.Second, 3, 0)

	snap := m.Snapshot()
	if snap.TotalSynced != 8 {
		t.Errorf("total_synced = %d, want 8", snap.TotalSynced)
	}
	if snap.TotalFailed != 1 {
		t.Errorf("total_failed = %d, want 1", snap.TotalFailed)
	}
	if snap.AverageDuration != 3*time.Second {
		t.Errorf("average = %v, want 3s", snap.AverageDuration)
	}
	if snap.LastSync.IsZero() {
		t.Errorf("last_sync not recorded")
	}
}

func TestMetricsConflictsAreNotFailures(t *testing.T) {
	m := NewMetrics()

	m.RecordConflictResolved()
	m.RecordConflictResolved()

	snap := m.Snapshot()
	if snap.ConflictsResolved != 2 {
		t.Errorf("conflicts_resolved = %d, want 2", snap.ConflictsResolved)
	}
	if snap.TotalFailed != 0 {
		t.Errorf("total_failed = %d, want 0", snap.TotalFailed)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRun(time.Second, 1, 1)
	m.RecordConflictResolved()

	m.Reset()

	snap := m.Snapshot()
	if snap != (MetricsSnapshot{}) {
		t.Errorf("snapshot after reset = %+v, want zero value", snap)
	}

	// The running average starts over after a reset.
	m.RecordRun(6*time.Second, 0, 0)
	if got := m.Snapshot().AverageDuration; got != 6*time.Second {
		t.Errorf("average after reset = %v, want 6s", got)
	}
}
