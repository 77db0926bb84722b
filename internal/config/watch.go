package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"onegateway/pkg/logging"
)

// DefaultDebounce is how long the watcher waits for further events
// before firing, coalescing rapid successive writes into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the config file for on-disk changes and invokes a
// callback once per debounce window. It watches the parent directory
// rather than the file itself, so editors and atomic writers that
// replace the file (write to a temp name, rename over) stay visible.
type Watcher struct {
	path     string
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
}

// NewWatcher returns a Watcher for the store's config file path. A
// non-positive debounce selects DefaultDebounce.
func NewWatcher(store *Store, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{path: store.Path(), debounce: debounce}
}

// Start begins watching; onChange runs after each debounced change to
// the config file. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context, onChange func()) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		w.mu.Unlock()
		return err
	}

	w.watcher = fsw
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	go w.processEvents(ctx, fsw, onChange)

	logging.Info("config", "watching %s for changes", w.path)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, fsw *fsnotify.Watcher, onChange func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event, onChange)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logging.Error("config", err, "config watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event, onChange func()) {
	// The whole directory is watched; only the config file itself matters.
	if filepath.Base(event.Name) != filepath.Base(w.path) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, onChange)
}

// Stop halts the watcher and cancels any pending debounced callback.
// It is safe to call on a watcher that never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if err := w.watcher.Close(); err != nil {
		logging.Warn("config", "error closing config watcher: %v", err)
	}
	w.watcher = nil
}
