// Package confloader loads server configuration and watches it for changes.
package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/relaymesh-go/pkg/flushtimer"
)

// Default coalescing window for bursts of file events.
const (
	DefaultSettle    = 100 * time.Millisecond
	DefaultMaxSettle = time.Second
)

// Watcher watches configuration files for changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	settle    time.Duration
	maxSettle time.Duration

	mu        sync.Mutex
	files     map[string]bool
	changed   map[string]bool
	callbacks []func(string)
	timer     *flushtimer.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithSettle sets how long the watcher waits for a burst of events to end
// before reporting a change, and the longest it delays a report.
func WithSettle(settle, maxSettle time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.settle = settle
		w.maxSettle = maxSettle
	}
}

// NewWatcher creates a new configuration file watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:   fw,
		logger:    slog.Default(),
		settle:    DefaultSettle,
		maxSettle: DefaultMaxSettle,
		files:     make(map[string]bool),
		changed:   make(map[string]bool),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.timer = flushtimer.New(w.settle, w.maxSettle, w.flush)
	return w, nil
}

// Watch adds a file to watch. The parent directory is watched so that
// editors replacing the file by rename are seen too.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory",
			"path", dir,
			"error", err,
		)
		return err
	}

	w.mu.Lock()
	w.files[path] = true
	w.mu.Unlock()

	w.logger.Debug("watching file for changes",
		"path", dir,
		"file", filepath.Base(path),
	)
	return nil
}

// OnChange registers a callback to be called when a watched file changes.
// The callback receives the path of the changed file.
func (w *Watcher) OnChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start watches for changes until Stop is called.
func (w *Watcher) Start() {
	w.logger.Info("configuration watcher started")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.record(filepath.Clean(event.Name), event.Op)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("configuration watcher error",
				"error", err,
			)
		case <-w.done:
			return
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

func (w *Watcher) record(path string, op fsnotify.Op) {
	w.mu.Lock()
	watched := w.files[path]
	if watched {
		w.changed[path] = true
	}
	w.mu.Unlock()

	if !watched {
		return
	}
	w.logger.Debug("configuration file changed",
		"file", path,
		"op", op.String(),
	)
	w.timer.Touch()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	changed := w.changed
	w.changed = make(map[string]bool)
	callbacks := append([]func(string)(nil), w.callbacks...)
	w.mu.Unlock()

	for path := range changed {
		for _, cb := range callbacks {
			cb(path)
		}
	}
}

// Stop stops the watcher. Pending changes are dropped.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.timer.Stop()
		if err = w.watcher.Close(); err != nil {
			w.logger.Error("failed to close watcher",
				"error", err,
			)
			return
		}
		w.logger.Info("configuration watcher stopped")
	})
	return err
}
