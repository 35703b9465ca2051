package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SignalWatcher turns the creation of a session's interrupt file into the
// cooperative interrupt mark. Other processes interrupt a run by writing the
// file with RequestInterrupt.
type SignalWatcher struct {
	path   string
	logger *zap.Logger

	mu          sync.RWMutex
	interrupted bool
	onInterrupt []func()

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

var _ Interrupter = (*SignalWatcher)(nil)

// NewSignalWatcher watches the directory containing path. If the watcher
// cannot be started, Interrupted falls back to checking the file directly.
func NewSignalWatcher(path string, logger *zap.Logger) (*SignalWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	w := &SignalWatcher{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("signal watcher unavailable, polling", zap.Error(err))
		return w, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logger.Warn("watch signals directory, polling", zap.String("dir", dir), zap.Error(err))
		return w, nil
	}
	w.watcher = watcher

	go w.watch()
	return w, nil
}

func (w *SignalWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.Trigger()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("signal watcher error", zap.Error(err))
		}
	}
}

// Path returns the watched interrupt file.
func (w *SignalWatcher) Path() string {
	return w.path
}

// OnInterrupt registers fn to run once when the mark is first set.
func (w *SignalWatcher) OnInterrupt(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onInterrupt = append(w.onInterrupt, fn)
}

// Trigger sets the interrupt mark.
func (w *SignalWatcher) Trigger() {
	w.mu.Lock()
	if w.interrupted {
		w.mu.Unlock()
		return
	}
	w.interrupted = true
	callbacks := append([]func(){}, w.onInterrupt...)
	w.mu.Unlock()

	w.logger.Info("interrupt requested, finishing in-flight work")
	for _, fn := range callbacks {
		fn()
	}
}

// Interrupted reports whether the mark is set. The file is also checked
// directly in case the watcher missed it.
func (w *SignalWatcher) Interrupted() bool {
	w.mu.RLock()
	set := w.interrupted
	w.mu.RUnlock()
	if set {
		return true
	}
	if _, err := os.Stat(w.path); err == nil {
		w.Trigger()
		return true
	}
	return false
}

// Clear removes a stale interrupt file and resets the mark.
func (w *SignalWatcher) Clear() error {
	w.mu.Lock()
	w.interrupted = false
	w.mu.Unlock()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear interrupt signal: %w", err)
	}
	return nil
}

// Close stops watching.
func (w *SignalWatcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

// RequestInterrupt writes the interrupt file at path.
func RequestInterrupt(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		return fmt.Errorf("write interrupt signal: %w", err)
	}
	return nil
}
