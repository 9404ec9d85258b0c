package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/coder/websocket"
)

func startTestServer(t *testing.T, metrics *sync.Metrics, counter Counter) *Server {
	t.Helper()

	config := &Config{
		Port:   0, // Use random available port
		Logger: log.New(io.Discard, "", 0),
	}
	server := NewServer(config, metrics, counter)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(50 * time.Millisecond)
	return server
}

func dialTestServer(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServerStartStop(t *testing.T) {
	config := &Config{
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	}
	server := NewServer(config, nil, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	server := startTestServer(t, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	server.Broadcast(Message{
		Event:   sync.EventSyncCompleted,
		Payload: map[string]int{"items_processed": 7},
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Event != sync.EventSyncCompleted {
		t.Errorf("event = %s, want %s", msg.Event, sync.EventSyncCompleted)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set on broadcast")
	}
}

func TestAttachMirrorsBusEvents(t *testing.T) {
	bus := sync.NewBus(log.New(io.Discard, "", 0))
	server := startTestServer(t, nil, nil)
	server.Attach(bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, server)

	bus.Emit(sync.EventSyncStarted, sync.RunPayload{Run: sync.SyncRun{ID: "run-1", Mode: sync.ModeFull}})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read mirrored event: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Event != sync.EventSyncStarted {
		t.Errorf("event = %s, want %s", msg.Event, sync.EventSyncStarted)
	}
}

type stubCounter struct {
	counts map[sync.Status]int
}

func (c stubCounter) Counts(ctx context.Context) (map[sync.Status]int, error) {
	return c.counts, nil
}

func TestStatusEndpoint(t *testing.T) {
	metrics := sync.NewMetrics()
	metrics.RecordRun(time.Second, 4, 1)

	counter := stubCounter{counts: map[sync.Status]int{
		sync.StatusQueued: 3,
		sync.StatusFailed: 1,
	}}

	server := startTestServer(t, metrics, counter)

	resp, err := http.Get("http://" + server.GetAddr() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Metrics sync.MetricsSnapshot `json:"metrics"`
		Queue   map[string]int       `json:"queue"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}

	if body.Metrics.TotalSynced != 4 || body.Metrics.TotalFailed != 1 {
		t.Errorf("metrics = %+v", body.Metrics)
	}
	if body.Queue["queued"] != 3 || body.Queue["failed"] != 1 {
		t.Errorf("queue = %v", body.Queue)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startTestServer(t, nil, nil)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}
