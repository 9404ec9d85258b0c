package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"
)

// memStore is an in-memory Store + ConflictStore for tests. Items are stored
// as copies so mutations only become visible through Update, matching a real
// database.
type memStore struct {
	mu            gosync.Mutex
	items         map[string]*WorkItem
	order         []string
	conflicts     map[string]*ConflictRecord
	conflictOrder []string
	lastSync      time.Time

	// listErr injects a pass-level store failure.
	listErr error
}

func newMemStore() *memStore {
	return &memStore{
		items:     make(map[string]*WorkItem),
		conflicts: make(map[string]*ConflictRecord),
	}
}

func cloneItem(it *WorkItem) *WorkItem {
	cp := *it
	return &cp
}

func (s *memStore) Enqueue(ctx context.Context, item *WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; ok {
		return fmt.Errorf("duplicate item %s", item.ID)
	}
	s.items[item.ID] = cloneItem(item)
	s.order = append(s.order, item.ID)
	return nil
}

func (s *memStore) List(ctx context.Context, statuses ...Status) ([]*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*WorkItem
	for _, id := range s.order {
		it, ok := s.items[id]
		if !ok {
			continue
		}
		if len(want) == 0 || want[it.Status] {
			out = append(out, cloneItem(it))
		}
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s not found", id)
	}
	return cloneItem(it), nil
}

func (s *memStore) Update(ctx context.Context, item *WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return fmt.Errorf("item %s not found", item.ID)
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *memStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *memStore) LastSyncedAt(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, nil
}

func (s *memStore) SetLastSyncedAt(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
	return nil
}

func (s *memStore) SaveConflict(ctx context.Context, rec *ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.conflicts[rec.ID] = &cp
	s.conflictOrder = append(s.conflictOrder, rec.ID)
	return nil
}

func (s *memStore) GetConflict(ctx context.Context, id string) (*ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("conflict %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) UpdateConflict(ctx context.Context, rec *ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[rec.ID]; !ok {
		return fmt.Errorf("conflict %s not found", rec.ID)
	}
	cp := *rec
	s.conflicts[rec.ID] = &cp
	return nil
}

func (s *memStore) ListConflicts(ctx context.Context, onlyPending bool) ([]*ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ConflictRecord
	for _, id := range s.conflictOrder {
		rec := s.conflicts[id]
		if onlyPending && rec.Resolution != ResolutionPending {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) statusOf(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok {
		return it.Status
	}
	return ""
}

func (s *memStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// submission records one Transport call for assertions.
type submission struct {
	ID       string
	Override bool
}

// stubTransport scripts per-item outcomes and dedupes by idempotency key the
// way the real server must: once an ID has been applied, resubmitting it is
// a no-op success with no second remote effect.
type stubTransport struct {
	mu      gosync.Mutex
	calls   []submission
	scripts map[string][]error
	// defaultErr is returned when no script remains for an item; nil
	// means success.
	defaultErr error
	applied    map[string]int
	// gate, when set, blocks each Submit until released.
	gate chan struct{}
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		scripts: make(map[string][]error),
		applied: make(map[string]int),
	}
}

// script queues outcomes for an item, consumed one per call.
func (t *stubTransport) script(id string, outcomes ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scripts[id] = append(t.scripts[id], outcomes...)
}

func (t *stubTransport) Submit(ctx context.Context, item *WorkItem) error {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = append(t.calls, submission{ID: item.ID, Override: item.Override})

	if queue := t.scripts[item.ID]; len(queue) > 0 {
		err := queue[0]
		t.scripts[item.ID] = queue[1:]
		if err == nil {
			t.applied[item.ID]++
		}
		return err
	}

	if t.defaultErr != nil {
		return t.defaultErr
	}

	// Idempotent dedupe: a second successful submission of the same ID
	// does not produce a second remote effect.
	if t.applied[item.ID] == 0 {
		t.applied[item.ID] = 1
	}
	return nil
}

func (t *stubTransport) callCount(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.ID == id {
			n++
		}
	}
	return n
}

func (t *stubTransport) submittedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.calls))
	for i, c := range t.calls {
		ids[i] = c.ID
	}
	return ids
}

// stubMonitor is a controllable NetworkMonitor.
type stubMonitor struct {
	mu      gosync.Mutex
	online  bool
	quality Quality
	subs    map[int]func(bool)
	nextID  int
}

func newStubMonitor(q Quality) *stubMonitor {
	return &stubMonitor{
		online:  q != QualityOffline,
		quality: q,
		subs:    make(map[int]func(bool)),
	}
}

func (m *stubMonitor) Quality() Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

func (m *stubMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *stubMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *stubMonitor) setQuality(q Quality) {
	m.mu.Lock()
	wasOnline := m.online
	m.quality = q
	m.online = q != QualityOffline
	nowOnline := m.online
	var subs []func(bool)
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if wasOnline != nowOnline {
		for _, fn := range subs {
			fn(nowOnline)
		}
	}
}

// queuedItem builds a queued WorkItem with a fixed creation time.
func queuedItem(id string, p Priority, created time.Time) *WorkItem {
	return &WorkItem{
		ID:        id,
		Kind:      KindAction,
		Method:    "POST",
		Target:    "/api/v1/treatments",
		Payload:   []byte(`{}`),
		Priority:  p,
		Status:    StatusQueued,
		CreatedAt: created,
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
