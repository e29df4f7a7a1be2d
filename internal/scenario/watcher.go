package scenario

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moolen/sleuth/internal/logging"
)

// ReloadCallback receives the freshly loaded scenarios after a change.
// A returned error is logged; the watcher keeps running.
type ReloadCallback func(scenarios []*Scenario) error

// WatcherConfig holds configuration for the Watcher.
type WatcherConfig struct {
	// Paths are scenario files or directories.
	Paths []string

	// DebounceMillis coalesces bursts of file events into one reload.
	// Default: 500ms
	DebounceMillis int
}

// Watcher reloads scenarios when their files change. Editors tend to emit
// several events per save, so reloads are debounced. A reload that fails to
// parse is logged and the previous scenarios stay in effect.
type Watcher struct {
	config   WatcherConfig
	callback ReloadCallback
	logger   *logging.Logger
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{}
	mu       sync.Mutex

	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given paths.
func NewWatcher(config WatcherConfig, callback ReloadCallback) (*Watcher, error) {
	if len(config.Paths) == 0 {
		return nil, errors.New("at least one path is required")
	}
	if callback == nil {
		return nil, errors.New("callback cannot be nil")
	}
	if config.DebounceMillis == 0 {
		config.DebounceMillis = 500
	}

	return &Watcher{
		config:   config,
		callback: callback,
		logger:   logging.GetLogger("scenario.watcher"),
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
	}, nil
}

// Name implements lifecycle.Component.
func (w *Watcher) Name() string {
	return "Scenario Watcher"
}

// Start loads the scenarios, hands them to the callback and begins watching.
// It returns once the file watcher is initialised.
func (w *Watcher) Start(ctx context.Context) error {
	initial, err := LoadPaths(w.config.Paths...)
	if err != nil {
		return fmt.Errorf("failed to load scenarios: %w", err)
	}
	if err := w.callback(initial); err != nil {
		return fmt.Errorf("initial callback failed: %w", err)
	}
	w.logger.Info("Loaded %d scenarios", len(initial))

	// The watch loop outlives Start's context; Stop ends it.
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel

	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return errors.New("timeout waiting for file watcher to initialize")
	}
}

func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	for _, p := range w.config.Paths {
		if err := watcher.Add(p); err != nil {
			w.logger.Error("Failed to watch %s: %v", p, err)
			return
		}
	}

	w.logger.Info("Watching %d paths for changes (debounce: %dms)", len(w.config.Paths), w.config.DebounceMillis)
	w.signalReady()

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// Atomic saves replace the file; watch the new inode.
			if event.Op.Has(fsnotify.Rename) || event.Op.Has(fsnotify.Remove) {
				if w.isWatchedFile(event.Name) {
					time.Sleep(50 * time.Millisecond)
					if err := watcher.Add(event.Name); err != nil {
						w.logger.Debug("Could not re-add watch for %s: %v", event.Name, err)
					}
				}
			}
			w.handleFileChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		}
	}
}

// relevant filters out chmod noise and non-scenario files in directories.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !(event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Rename) || event.Op.Has(fsnotify.Remove)) {
		return false
	}
	return w.isWatchedFile(event.Name) || isScenarioFile(event.Name)
}

func (w *Watcher) isWatchedFile(name string) bool {
	for _, p := range w.config.Paths {
		if filepath.Clean(p) != filepath.Clean(name) {
			continue
		}
		info, err := os.Stat(p)
		return err != nil || !info.IsDir()
	}
	return false
}

func (w *Watcher) handleFileChange(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.config.DebounceMillis)*time.Millisecond,
		func() { w.reload(ctx) },
	)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	scenarios, err := LoadPaths(w.config.Paths...)
	if err != nil {
		w.logger.Warn("Failed to reload scenarios (keeping previous): %v", err)
		return
	}
	if err := w.callback(scenarios); err != nil {
		w.logger.Warn("Reload callback failed (continuing to watch): %v", err)
		return
	}
	w.logger.Info("Reloaded %d scenarios", len(scenarios))
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	} else {
		return nil
	}

	select {
	case <-w.stopped:
		w.logger.Info("Scenario watcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for watcher to stop: %w", ctx.Err())
	}
}
