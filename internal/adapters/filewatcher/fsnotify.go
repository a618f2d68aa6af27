// Package filewatcher monitors the data directory and triggers the
// incremental update flow when new corpus files settle.
package filewatcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sweetseek/internal/tracker"
)

// DefaultDebounce is how long the watcher waits after the last event
// before triggering an update, so files still being copied are not
// ingested half-written.
const DefaultDebounce = 5 * time.Second

// UpdateFunc runs the incremental update when pending files settle.
type UpdateFunc func(ctx context.Context)

// AutoUpdater watches a directory tree with fsnotify, collects
// supported-file events, and invokes the update callback once the
// debounce window has passed with no further events.
type AutoUpdater struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onUpdate UpdateFunc
	logger   *slog.Logger

	mu        sync.Mutex
	pending   map[string]bool
	lastEvent time.Time
}

// NewAutoUpdater creates a watcher. A non-positive debounce falls back
// to the default.
func NewAutoUpdater(debounce time.Duration, onUpdate UpdateFunc, logger *slog.Logger) (*AutoUpdater, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoUpdater{
		watcher:  w,
		debounce: debounce,
		onUpdate: onUpdate,
		logger:   logger,
		pending:  make(map[string]bool),
	}, nil
}

// Watch starts monitoring dir and its subdirectories until ctx is
// done.
func (a *AutoUpdater) Watch(ctx context.Context, dir string) error {
	if err := a.addRecursive(dir); err != nil {
		return err
	}

	go a.loop(ctx)
	go a.flushLoop(ctx)

	a.logger.Info("auto-update watcher started", "dir", dir, "debounce", a.debounce)
	return nil
}

// Stop stops the watcher.
func (a *AutoUpdater) Stop() error {
	return a.watcher.Close()
}

// addRecursive registers dir and every non-hidden subdirectory.
func (a *AutoUpdater) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return fs.SkipDir
		}
		return a.watcher.Add(path)
	})
}

// loop consumes filesystem events.
func (a *AutoUpdater) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			a.handleEvent(event)
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("watcher error", "error", err)
		}
	}
}

func (a *AutoUpdater) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// New subdirectories need their own watch.
	if event.Op&fsnotify.Create != 0 {
		if err := a.watcher.Add(event.Name); err == nil {
			a.logger.Debug("watching new path", "path", event.Name)
		}
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !tracker.IsSupported(event.Name) {
		return
	}

	a.mu.Lock()
	if !a.pending[event.Name] {
		a.logger.Info("new file detected", "file", name)
	}
	a.pending[event.Name] = true
	a.lastEvent = time.Now()
	a.mu.Unlock()
}

// flushLoop fires the update callback once events have settled.
func (a *AutoUpdater) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			ready := len(a.pending) > 0 && time.Since(a.lastEvent) >= a.debounce
			count := len(a.pending)
			if ready {
				a.pending = make(map[string]bool)
			}
			a.mu.Unlock()

			if ready {
				a.logger.Info("processing settled files", "count", count)
				a.onUpdate(ctx)
			}
		}
	}
}
