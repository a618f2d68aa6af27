// Package tracker maintains the set of already-indexed source files
// and detects newly arrived ones by diffing the filesystem against the
// tracked state.
package tracker

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// supportedExtensions are the corpus file types eligible for indexing.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".csv":  true,
	".json": true,
}

// IsSupported reports whether the path has an indexable extension.
func IsSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Tracker persists the set of indexed file paths. A corrupt or missing
// tracking file degrades to an empty set, never a failure.
type Tracker struct {
	mu           sync.Mutex
	trackingFile string
	indexed      map[string]bool
	logger       *slog.Logger
}

// New creates a tracker backed by trackingFile and loads any existing
// state.
func New(trackingFile string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		trackingFile: trackingFile,
		indexed:      make(map[string]bool),
		logger:       logger,
	}
	t.load()
	return t
}

// load reads the tracking file. Absence or corruption leaves the set
// empty: everything then looks new, which is safe.
func (t *Tracker) load() {
	data, err := os.ReadFile(t.trackingFile)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warn("tracking file unreadable, starting empty", "path", t.trackingFile, "error", err)
		}
		return
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		t.logger.Warn("tracking file corrupt, starting empty", "path", t.trackingFile, "error", err)
		return
	}
	for _, p := range paths {
		t.indexed[p] = true
	}
}

// ScanSupportedFiles walks root recursively and returns the absolute
// paths of all supported, non-hidden files, sorted for determinism.
func (t *Tracker) ScanSupportedFiles(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !IsSupported(path) {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		found = append(found, abs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(found)
	return found, nil
}

// NewFiles returns the supported files under root that are not yet
// tracked. It never mutates tracked state.
func (t *Tracker) NewFiles(root string) ([]string, error) {
	all, err := t.ScanSupportedFiles(root)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var fresh []string
	for _, p := range all {
		if !t.indexed[p] {
			fresh = append(fresh, p)
		}
	}
	return fresh, nil
}

// MarkIndexed adds paths to the tracked set and persists it
// immediately.
func (t *Tracker) MarkIndexed(paths []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range paths {
		t.indexed[p] = true
	}
	return t.saveLocked()
}

// RebuildTracking replaces the tracked set wholesale with the current
// scan of root, resynchronizing after out-of-band changes.
func (t *Tracker) RebuildTracking(root string) error {
	all, err := t.ScanSupportedFiles(root)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.indexed = make(map[string]bool, len(all))
	for _, p := range all {
		t.indexed[p] = true
	}
	return t.saveLocked()
}

// Count returns the number of tracked files.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.indexed)
}

// saveLocked writes the tracked set via temp file and rename, so a
// crash leaves either the old or the new file, never a partial one.
// Caller holds the lock.
func (t *Tracker) saveLocked() error {
	paths := make([]string, 0, len(t.indexed))
	for p := range t.indexed {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	data, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tracking file: %w", err)
	}

	dir := filepath.Dir(t.trackingFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating tracking directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".indexed_files-*.json")
	if err != nil {
		return fmt.Errorf("creating temp tracking file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing tracking file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing tracking file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing tracking file: %w", err)
	}
	if err := os.Rename(tmpName, t.trackingFile); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("committing tracking file: %w", err)
	}
	return nil
}
