package sync

import (
	"context"
	"io"
	"log"
	"testing"
	"time"
)

func testResolver(t *testing.T, store *memStore, transport Transport) *Resolver {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	return NewResolver(store, store, transport, NewBus(logger), NewMetrics(), DefaultAutoResolveWindow, logger)
}

func conflictedItem(id string, created time.Time) *WorkItem {
	it := queuedItem(id, PriorityNormal, created)
	it.Status = StatusConflicted
	return it
}

func remoteSnapshot(id string, created time.Time) Snapshot {
	return Snapshot{
		ItemID:    id,
		Status:    "succeeded",
		Priority:  PriorityNormal,
		CreatedAt: created,
	}
}

func TestResolveServerWins(t *testing.T) {
	store := newMemStore()
	transport := newStubTransport()
	r := testResolver(t, store, transport)

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	item := conflictedItem("it-1", t0)
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Remote copy is newer, so it wins.
	rec, err := r.Resolve(context.Background(), item, remoteSnapshot("it-1", t0.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if rec.Resolution != ResolutionServerWins {
		t.Errorf("got resolution %s, want %s", rec.Resolution, ResolutionServerWins)
	}
	if store.statusOf("it-1") != StatusSucceeded {
		t.Errorf("got status %s, want succeeded", store.statusOf("it-1"))
	}
	// server_wins never resubmits.
	if n := transport.callCount("it-1"); n != 0 {
		t.Errorf("got %d transport calls, want 0", n)
	}
	if got := r.metrics.Snapshot().ConflictsResolved; got != 1 {
		t.Errorf("conflicts_resolved = %d, want 1", got)
	}
}

func TestResolveLocalWins(t *testing.T) {
	store := newMemStore()
	transport := newStubTransport()
	r := testResolver(t, store, transport)

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	item := conflictedItem("it-1", t0.Add(2*time.Minute))
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Local copy is newer: resubmit with override.
	rec, err := r.Resolve(context.Background(), item, remoteSnapshot("it-1", t0))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if rec.Resolution != ResolutionLocalWins {
		t.Errorf("got resolution %s, want %s", rec.Resolution, ResolutionLocalWins)
	}
	if n := transport.callCount("it-1"); n != 1 {
		t.Fatalf("got %d transport calls, want 1", n)
	}
	if !transport.calls[0].Override {
		t.Errorf("override resubmission missing the override flag")
	}
	if store.statusOf("it-1") != StatusSucceeded {
		t.Errorf("got status %s, want succeeded", store.statusOf("it-1"))
	}
}

func TestResolveLocalWinsResubmitDeferred(t *testing.T) {
	store := newMemStore()
	transport := newStubTransport()
	transport.defaultErr = &TransientError{Reason: "timeout"}
	r := testResolver(t, store, transport)

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	item := conflictedItem("it-1", t0.Add(time.Minute))
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	rec, err := r.Resolve(context.Background(), item, remoteSnapshot("it-1", t0))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Failed override submission goes back to queued for the next pass.
	if rec.Resolution != ResolutionLocalWins {
		t.Errorf("got resolution %s, want %s", rec.Resolution, ResolutionLocalWins)
	}
	if store.statusOf("it-1") != StatusQueued {
		t.Errorf("got status %s, want queued", store.statusOf("it-1"))
	}
}

func TestResolveDivergenceBoundary(t *testing.T) {
	cases := []struct {
		name       string
		divergence time.Duration
		wantManual bool
	}{
		{"just inside", 5*time.Minute - time.Second, false},
		{"exactly at window", 5 * time.Minute, true},
		{"beyond window", 5*time.Minute + time.Second, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			transport := newStubTransport()
			r := testResolver(t, store, transport)

			manual := 0
			r.bus.On(EventConflictManual, func(any) { manual++ })

			t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
			item := conflictedItem("it-1", t0)
			if err := store.Enqueue(context.Background(), item); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}

			rec, err := r.Resolve(context.Background(), item, remoteSnapshot("it-1", t0.Add(tc.divergence)))
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}

			if tc.wantManual {
				if rec.Resolution != ResolutionPending {
					t.Errorf("got resolution %s, want pending", rec.Resolution)
				}
				if manual != 1 {
					t.Errorf("conflict:manual_required emitted %d times, want 1", manual)
				}
				if store.statusOf("it-1") != StatusConflicted {
					t.Errorf("got status %s, want conflicted", store.statusOf("it-1"))
				}
			} else {
				if rec.Resolution == ResolutionPending {
					t.Errorf("conflict inside the window was not auto-resolved")
				}
				if manual != 0 {
					t.Errorf("conflict:manual_required emitted for auto-resolvable conflict")
				}
			}
		})
	}
}

func TestResolveRecordsFieldDiffs(t *testing.T) {
	store := newMemStore()
	r := testResolver(t, store, newStubTransport())

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	item := conflictedItem("it-1", t0)
	item.Metadata = map[string]string{"notes": "leaf spots on row 4", "crop": "tomato"}
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	remote := remoteSnapshot("it-1", t0.Add(10*time.Minute))
	remote.Metadata = map[string]string{"notes": "treated on site", "crop": "tomato"}

	rec, err := r.Resolve(context.Background(), item, remote)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	byField := make(map[string]FieldDiff)
	for _, d := range rec.Diffs {
		byField[d.Field] = d
	}
	if d, ok := byField["status"]; !ok || d.Severity != SeverityHigh {
		t.Errorf("status diff = %+v, want high severity", d)
	}
	if d, ok := byField["metadata.notes"]; !ok || d.Severity != SeverityMedium {
		t.Errorf("metadata.notes diff = %+v, want medium severity", d)
	}
	if _, ok := byField["metadata.crop"]; ok {
		t.Errorf("identical metadata field reported as a diff")
	}
}

func TestApplyResolutionChoices(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name         string
		choice       Choice
		merged       []byte
		wantStatus   Status
		wantOverride bool
		wantPayload  string
	}{
		{"keep remote", ChoiceKeepRemote, nil, StatusSucceeded, false, `{}`},
		{"keep local", ChoiceKeepLocal, nil, StatusQueued, true, `{}`},
		{"merged payload", ChoiceMergedPayload, []byte(`{"merged":true}`), StatusQueued, true, `{"merged":true}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			r := testResolver(t, store, newStubTransport())

			resolved := 0
			r.bus.On(EventConflictResolved, func(payload any) {
				cp, ok := payload.(ConflictPayload)
				if !ok || cp.Automated {
					t.Errorf("expected manual ConflictPayload, got %#v", payload)
				}
				resolved++
			})

			item := conflictedItem("it-1", t0)
			if err := store.Enqueue(context.Background(), item); err != nil {
				t.Fatalf("enqueue failed: %v", err)
			}
			rec := NewConflictRecord(item, remoteSnapshot("it-1", t0.Add(10*time.Minute)), t0)
			if err := store.SaveConflict(context.Background(), rec); err != nil {
				t.Fatalf("save conflict failed: %v", err)
			}

			if err := r.ApplyResolution(context.Background(), rec.ID, tc.choice, tc.merged); err != nil {
				t.Fatalf("ApplyResolution failed: %v", err)
			}

			got, err := store.Get(context.Background(), "it-1")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.Status != tc.wantStatus {
				t.Errorf("got status %s, want %s", got.Status, tc.wantStatus)
			}
			if got.Override != tc.wantOverride {
				t.Errorf("got override %v, want %v", got.Override, tc.wantOverride)
			}
			if string(got.Payload) != tc.wantPayload {
				t.Errorf("got payload %s, want %s", got.Payload, tc.wantPayload)
			}

			saved, err := store.GetConflict(context.Background(), rec.ID)
			if err != nil {
				t.Fatalf("get conflict failed: %v", err)
			}
			if saved.Resolution != ResolutionManual {
				t.Errorf("got resolution %s, want %s", saved.Resolution, ResolutionManual)
			}
			if resolved != 1 {
				t.Errorf("conflict:resolved emitted %d times, want 1", resolved)
			}
		})
	}
}

func TestApplyResolutionRejectsResolvedConflict(t *testing.T) {
	store := newMemStore()
	r := testResolver(t, store, newStubTransport())

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	item := conflictedItem("it-1", t0)
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	rec := NewConflictRecord(item, remoteSnapshot("it-1", t0.Add(10*time.Minute)), t0)
	rec.Resolution = ResolutionServerWins
	if err := store.SaveConflict(context.Background(), rec); err != nil {
		t.Fatalf("save conflict failed: %v", err)
	}

	if err := r.ApplyResolution(context.Background(), rec.ID, ChoiceKeepLocal, nil); err == nil {
		t.Fatalf("expected error applying a resolution twice")
	}
}

func TestApplyResolutionMergedRequiresPayload(t *testing.T) {
	store := newMemStore()
	r := testResolver(t, store, newStubTransport())

	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	item := conflictedItem("it-1", t0)
	if err := store.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	rec := NewConflictRecord(item, remoteSnapshot("it-1", t0.Add(10*time.Minute)), t0)
	if err := store.SaveConflict(context.Background(), rec); err != nil {
		t.Fatalf("save conflict failed: %v", err)
	}

	if err := r.ApplyResolution(context.Background(), rec.ID, ChoiceMergedPayload, nil); err == nil {
		t.Fatalf("expected error for merged_payload without a payload")
	}
}
