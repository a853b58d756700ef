package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a config file when it changes on disk
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	log      *zap.SugaredLogger

	mu         sync.Mutex
	isWatching bool
	pending    bool
	lastChange time.Time

	onChange func(*Config)
}

// NewWatcher creates a watcher for path. The parent directory is watched so
// editors that save by rename are still seen.
func NewWatcher(path string, debounce time.Duration, log *zap.SugaredLogger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		watcher:  watcher,
		log:      log,
	}, nil
}

// SetChangeCallback sets the function called with each valid reloaded config
func (w *Watcher) SetChangeCallback(callback func(*Config)) {
	w.onChange = callback
}

// Start blocks until ctx is done. Invalid edits are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.isWatching = true
	w.mu.Unlock()
	defer w.Stop()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

	w.log.Debugf("Watching %s for changes", w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.lastChange = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Warnf("Config watcher error: %v", err)

		case <-tick.C:
			w.flush()
		}
	}
}

// flush reloads once the file has been quiet for the debounce period
func (w *Watcher) flush() {
	w.mu.Lock()
	ready := w.pending && time.Since(w.lastChange) >= w.debounce
	if ready {
		w.pending = false
	}
	w.mu.Unlock()
	if !ready {
		return
	}

	cfg, err := NewLoader(filepath.Dir(w.path)).LoadFile(w.path)
	if err != nil {
		w.log.Warnf("Ignoring config change: %v", err)
		return
	}
	w.log.Infof("Config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isWatching {
		w.watcher.Close()
		w.isWatching = false
	}
}
