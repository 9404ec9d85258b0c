// Package netmon watches API reachability and classifies link quality.
//
// The monitor probes a health endpoint on a timer and buckets the observed
// round-trip latency into the quality classes the scheduler keys its
// inter-batch delays off. A failed probe means offline. Subscribers are
// notified on online/offline transitions only, not on every probe.
package netmon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	gosync "sync"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
)

// DefaultInterval is how often the link is probed.
const DefaultInterval = 10 * time.Second

// Latency thresholds for quality classification.
const (
	slowThreshold      = 1500 * time.Millisecond
	mediumLowThreshold = 800 * time.Millisecond
	mediumThreshold    = 300 * time.Millisecond
)

// Monitor probes a health URL and reports link quality. It implements
// sync.NetworkMonitor.
type Monitor struct {
	probeURL string
	interval time.Duration
	logger   *log.Logger

	// probe measures one round trip. Replaceable for tests.
	probe func(ctx context.Context) (time.Duration, error)

	mu      gosync.Mutex
	quality sync.Quality
	subs    map[int]func(bool)
	nextID  int

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a monitor probing the given health URL. interval <= 0 uses the
// default. The monitor starts offline until the first probe completes; call
// Start to begin probing.
func New(probeURL string, interval time.Duration, logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	m := &Monitor{
		probeURL: probeURL,
		interval: interval,
		logger:   logger,
		quality:  sync.QualityOffline,
		subs:     make(map[int]func(bool)),
	}
	m.probe = func(ctx context.Context) (time.Duration, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			return 0, err
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return 0, fmt.Errorf("health endpoint returned %s", resp.Status)
		}
		return time.Since(start), nil
	}
	return m
}

// Start begins the probe loop. The first probe runs immediately so callers
// get a real quality reading without waiting a full interval. No-op if
// already started.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the probe loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one probe and folds the result into the current quality.
func (m *Monitor) check(ctx context.Context) {
	latency, err := m.probe(ctx)

	quality := sync.QualityOffline
	if err == nil {
		quality = Classify(latency)
	}

	m.setQuality(quality, err)
}

// Classify buckets a round-trip latency into a quality class.
func Classify(latency time.Duration) sync.Quality {
	switch {
	case latency > slowThreshold:
		return sync.QualitySlow
	case latency > mediumLowThreshold:
		return sync.QualityMediumLow
	case latency > mediumThreshold:
		return sync.QualityMedium
	default:
		return sync.QualityFast
	}
}

// setQuality records the new reading and notifies subscribers when the link
// crosses the online/offline boundary.
func (m *Monitor) setQuality(q sync.Quality, probeErr error) {
	m.mu.Lock()
	wasOnline := m.quality != sync.QualityOffline
	changed := m.quality != q
	m.quality = q
	nowOnline := q != sync.QualityOffline

	var subs []func(bool)
	if wasOnline != nowOnline {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if changed {
		if probeErr != nil {
			m.logger.Printf("Link offline: %v", probeErr)
		} else {
			m.logger.Printf("Link quality: %s", q)
		}
	}

	for _, fn := range subs {
		fn(nowOnline)
	}
}

// Refresh runs one probe synchronously and returns the resulting quality.
// Used by one-shot commands that cannot wait for the timer.
func (m *Monitor) Refresh(ctx context.Context) sync.Quality {
	m.check(ctx)
	return m.Quality()
}

// Quality returns the most recent reading.
func (m *Monitor) Quality() sync.Quality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quality
}

// Online reports whether the last probe reached the API.
func (m *Monitor) Online() bool {
	return m.Quality() != sync.QualityOffline
}

// Subscribe registers a callback for online/offline transitions. The
// returned function unsubscribes.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
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
