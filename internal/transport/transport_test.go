package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "test-token", srv.Client())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func uploadItem() *sync.WorkItem {
	return &sync.WorkItem{
		ID:        "it-1",
		Kind:      sync.KindUpload,
		Priority:  sync.PriorityNormal,
		Status:    sync.StatusQueued,
		Payload:   []byte{0xff, 0xd8, 0xff}, // JPEG magic
		Metadata:  map[string]string{"field_id": "f-12", "crop": "tomato"},
		CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestSubmitUpload(t *testing.T) {
	var gotPath, gotKey, gotAuth string
	var gotEnv uploadEnvelope

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotEnv); err != nil {
			t.Errorf("bad upload body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	if err := c.Submit(context.Background(), uploadItem()); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if gotPath != "/api/v1/uploads" {
		t.Errorf("path = %s, want /api/v1/uploads", gotPath)
	}
	if gotKey != "it-1" {
		t.Errorf("Idempotency-Key = %q, want it-1", gotKey)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotEnv.ID != "it-1" || gotEnv.Metadata["crop"] != "tomato" {
		t.Errorf("envelope = %+v", gotEnv)
	}
	if len(gotEnv.Data) != 3 || gotEnv.Data[0] != 0xff {
		t.Errorf("image bytes = %v", gotEnv.Data)
	}
}

func TestSubmitActionReplaysMethodAndTarget(t *testing.T) {
	var gotMethod, gotPath, gotBody string

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		var buf [64]byte
		n, _ := r.Body.Read(buf[:])
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	})

	item := &sync.WorkItem{
		ID:        "act-1",
		Kind:      sync.KindAction,
		Method:    http.MethodPut,
		Target:    "/api/v1/treatments/t-9",
		Payload:   []byte(`{"applied":true}`),
		Priority:  sync.PriorityHigh,
		Status:    sync.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	if err := c.Submit(context.Background(), item); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	if gotMethod != http.MethodPut || gotPath != "/api/v1/treatments/t-9" {
		t.Errorf("got %s %s", gotMethod, gotPath)
	}
	if gotBody != `{"applied":true}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestSubmitOverrideHeader(t *testing.T) {
	var gotOverride string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotOverride = r.Header.Get("X-CropGuard-Override")
		w.WriteHeader(http.StatusOK)
	})

	item := uploadItem()
	if err := c.Submit(context.Background(), item); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if gotOverride != "" {
		t.Errorf("override header sent without the flag: %q", gotOverride)
	}

	item.Override = true
	if err := c.Submit(context.Background(), item); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if gotOverride != "true" {
		t.Errorf("override header = %q, want true", gotOverride)
	}
}

func TestSubmitConflictCarriesSnapshot(t *testing.T) {
	remote := sync.Snapshot{
		ItemID:    "it-1",
		Status:    "succeeded",
		Priority:  sync.PriorityHigh,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(conflictBody{Remote: remote})
	})

	err := c.Submit(context.Background(), uploadItem())

	var conflict *sync.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want ConflictError", err)
	}
	if conflict.Remote.Status != "succeeded" || !conflict.Remote.CreatedAt.Equal(remote.CreatedAt) {
		t.Errorf("remote snapshot = %+v", conflict.Remote)
	}
}

func TestSubmitStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusRequestTimeout, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusBadRequest, false, true},
		{http.StatusUnprocessableEntity, false, true},
		{http.StatusUnauthorized, false, true},
	}

	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		err := c.Submit(context.Background(), uploadItem())

		var transient *sync.TransientError
		switch {
		case !tc.transient && !tc.permanent:
			if err != nil {
				t.Errorf("status %d: got %v, want nil", tc.status, err)
			}
		case tc.transient:
			if !errors.As(err, &transient) {
				t.Errorf("status %d: got %v, want TransientError", tc.status, err)
			}
		case tc.permanent:
			if err == nil || errors.As(err, &transient) {
				t.Errorf("status %d: got %v, want permanent error", tc.status, err)
			}
		}
	}
}

func TestSubmitNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // connection refused from here on

	c, err := New(url, "", nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	var transient *sync.TransientError
	if err := c.Submit(context.Background(), uploadItem()); !errors.As(err, &transient) {
		t.Fatalf("got %v, want TransientError", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url", "", nil); err == nil {
		t.Error("expected error for malformed URL")
	}
	if _, err := New("ftp://example.com", "", nil); err == nil {
		t.Error("expected error for non-HTTP scheme")
	}
}
