// Package spool watches the capture spool directory and turns finished
// sidecars into queued upload work items.
//
// The capture flow writes the image first and its {id}.json sidecar last, so
// a sidecar appearing means the capture is complete. The watcher debounces
// rapid events (editors and the capture app both write in bursts), enqueues
// an upload for each settled sidecar, and moves the pair into processed/ so
// a restart never enqueues the same capture twice. The work item reuses the
// capture ID, which makes an accidental double-enqueue a no-op at the store.
package spool

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/capture"
	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/fsnotify/fsnotify"
)

// processedDir is the subdirectory handled captures are moved into.
const processedDir = "processed"

// Enqueuer is the slice of the store the watcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, item *sync.WorkItem) error
}

// Config holds the watcher's tunables.
type Config struct {
	// DebounceInterval is how long a sidecar must sit quiet before it is
	// processed. This batches rapid writes together.
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[spool] ", log.LstdFlags),
	}
}

// Watcher monitors the spool directory and enqueues captures.
type Watcher struct {
	dir    string
	queue  Enqueuer
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // sidecar path -> last event
	changeQueueMu gosync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a watcher for the given spool directory.
func New(dir string, queue Enqueuer, config *Config) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("spool directory cannot be empty")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[spool] ", log.LstdFlags)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		dir:         dir,
		queue:       queue,
		config:      config,
		watcher:     fsw,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching the spool directory.
//
// Existing sidecars are processed first so captures made while the daemon
// was down are picked up. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.dir, processedDir), 0755); err != nil {
		return fmt.Errorf("failed to create processed directory: %w", err)
	}

	if err := w.Scan(); err != nil {
		return fmt.Errorf("initial spool scan failed: %w", err)
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}

	w.config.Logger.Printf("Watching: %s", w.dir)

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processChangeQueue()

	select {
	case <-ctx.Done():
		w.config.Logger.Println("Shutdown signal received")
		return w.Stop()
	case <-w.ctx.Done():
		return nil
	}
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	w.cancel()

	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}

	w.wg.Wait()
	w.config.Logger.Println("Spool watcher stopped")
	return nil
}

// Scan processes every sidecar currently in the spool directory.
func (w *Watcher) Scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read spool directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := w.process(path); err != nil {
			w.config.Logger.Printf("Warning: skipping capture %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues sidecar changes.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			w.changeQueueMu.Lock()
			w.changeQueue[event.Name] = time.Now()
			w.changeQueueMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processChangeQueue drains settled sidecars on a debounce timer.
func (w *Watcher) processChangeQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.drainSettled()
		}
	}
}

// drainSettled processes sidecars that have sat quiet for a full debounce
// interval.
func (w *Watcher) drainSettled() {
	now := time.Now()

	w.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(w.changeQueue, path)
	}
	w.changeQueueMu.Unlock()

	for _, path := range ready {
		if err := w.process(path); err != nil {
			w.config.Logger.Printf("Warning: failed to process capture %s: %v", filepath.Base(path), err)
		}
	}
}

// process reads one sidecar, enqueues the upload, and moves the pair into
// processed/.
func (w *Watcher) process(path string) error {
	f, err := capture.Read(path)
	if err != nil {
		return err
	}

	imagePath := filepath.Join(w.dir, f.ImagePath)
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("failed to read image %s: %w", f.ImagePath, err)
	}

	priority, err := sync.ParsePriority(f.Priority)
	if err != nil {
		return err
	}

	item := &sync.WorkItem{
		ID:        f.ID,
		Kind:      sync.KindUpload,
		Priority:  priority,
		Status:    sync.StatusQueued,
		Payload:   data,
		Metadata:  f.Metadata(),
		CreatedAt: f.CapturedAt,
	}

	if err := w.queue.Enqueue(w.ctx, item); err != nil {
		return fmt.Errorf("failed to enqueue capture %s: %w", f.ID, err)
	}

	w.config.Logger.Printf("Queued capture %s (%s, %s)", f.ID, f.Crop, f.Priority)

	// Move the pair out of the spool so it is never enqueued again.
	dest := filepath.Join(w.dir, processedDir)
	if err := os.Rename(path, filepath.Join(dest, filepath.Base(path))); err != nil {
		return fmt.Errorf("failed to archive sidecar: %w", err)
	}
	if err := os.Rename(imagePath, filepath.Join(dest, filepath.Base(imagePath))); err != nil {
		return fmt.Errorf("failed to archive image: %w", err)
	}
	return nil
}
