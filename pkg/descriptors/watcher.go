package descriptors

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce batches the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a descriptors file when it changes and applies it through
// a Syncer. The parent directory is watched so editors that replace the file
// by rename are still observed.
type Watcher struct {
	path     string
	syncer   *Syncer
	logger   *zap.Logger
	debounce time.Duration

	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// onApplied is called after each reload attempt; tests use it to wait.
	onApplied func(err error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithOnApplied sets a callback invoked after each reload.
func WithOnApplied(fn func(err error)) WatcherOption {
	return func(w *Watcher) { w.onApplied = fn }
}

// NewWatcher creates a watcher for the descriptors file at path.
func NewWatcher(path string, syncer *Syncer, logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve descriptors path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		path:      abs,
		syncer:    syncer,
		logger:    logger.Named("descriptors-watcher"),
		debounce:  DefaultDebounce,
		fsWatcher: fsw,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads and applies the file once, then watches it for changes.
// A file that fails to load at startup is an error; later failures are
// logged and the previous connections kept.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	f, err := Load(w.path)
	if err != nil {
		return err
	}
	if err := w.syncer.Apply(ctx, f); err != nil {
		// Individual connection failures are retried on the next change.
		w.logger.Warn("Some descriptors failed to connect", zap.Error(err))
	}

	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch descriptors directory: %w", err)
	}
	w.logger.Info("Watching descriptors file", zap.String("path", w.path))

	w.running = true
	go w.processEvents(ctx)
	return nil
}

// Stop stops watching and waits for any in-progress reload.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsWatcher.Close()
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.fsWatcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.doneCh)

	reload := make(chan struct{}, 1)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule(reload)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Descriptors watcher error", zap.Error(err))

		case <-reload:
			w.reload(ctx)
		}
	}
}

// schedule restarts the debounce timer; when it fires a reload is queued.
func (w *Watcher) schedule(reload chan<- struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) reload(ctx context.Context) {
	f, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Ignoring invalid descriptors file", zap.Error(err))
	} else {
		err = w.syncer.Apply(ctx, f)
		if err != nil {
			w.logger.Warn("Descriptors applied with errors", zap.Error(err))
		} else {
			w.logger.Info("Descriptors reloaded", zap.Int("connections", len(f.Connections)))
		}
	}
	if w.onApplied != nil {
		w.onApplied(err)
	}
}
