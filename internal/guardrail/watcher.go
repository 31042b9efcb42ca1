package guardrail

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"brandforge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the guardrail store when its file changes on disk.
// Reloads only affect runs started afterwards: every run holds its own
// snapshot, so an in-flight run never observes the new config.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	store       *Store
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	reloads     int
}

// NewWatcher creates a watcher for the store's backing file.
func NewWatcher(store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		store:       store,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine.
// The parent directory is watched rather than the file itself so that
// editors doing atomic rename-saves are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.store.path)
	if err := w.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryGuardrail).Warn("watcher: initial watch of %s failed: %v", dir, err)
	} else {
		logging.Guardrail("watcher: watching %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryGuardrail).Error("watcher: close failed: %v", err)
	}
}

// Reloads returns how many reloads the watcher has applied.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryGuardrail).Error("watcher: %v", err)
		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.store.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	ready := false
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			delete(w.debounceMap, path)
			ready = true
		}
	}
	w.mu.Unlock()

	if !ready {
		return
	}

	if err := w.store.reload(); err != nil {
		// Keep the previous config; a half-written file settles on the
		// next debounce tick.
		logging.Get(logging.CategoryGuardrail).Warn("watcher: reload skipped: %v", err)
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	logging.Guardrail("watcher: guardrail config reloaded")
}
