// Package catalog persists bibliographic records as a JSON map keyed
// by normalized file path.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sweetseek/internal/domain/entities"
)

// Store is a file-backed key-value store of bibliographic records with
// an in-memory cache. Writes follow a backup-then-commit discipline:
// the previous file is parked as .bak, the new content written, then
// the backup removed; on a failed write the backup is restored.
type Store struct {
	mu     sync.Mutex
	path   string
	cache  map[string]entities.BibliographicRecord
	logger *slog.Logger
	nowFn  func() time.Time
}

// New creates the store and loads any existing catalog. A corrupt or
// missing catalog file starts empty with a warning, never an error.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		cache:  make(map[string]entities.BibliographicRecord),
		logger: logger,
		nowFn:  time.Now,
	}
	s.load()
	return s
}

// NormalizePath converts a file path to its catalog key form (forward
// slashes, regardless of the platform the path came from).
func NormalizePath(path string) string {
	return strings.ReplaceAll(path, `\`, "/")
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("catalog unreadable, starting empty", "path", s.path, "error", err)
		}
		return
	}
	var records map[string]entities.BibliographicRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("catalog corrupt, starting empty", "path", s.path, "error", err)
		return
	}
	s.cache = records
	s.logger.Info("catalog loaded", "path", s.path, "records", len(records))
}

// Save stores the record under the normalized path, stamping the path
// and last-modified time, and persists the catalog.
func (s *Store) Save(path string, rec *entities.BibliographicRecord) error {
	key := NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	stored.FilePath = key
	stored.LastModified = s.nowFn()
	s.cache[key] = stored

	return s.flushLocked()
}

// Get returns the record for the normalized path, if present.
func (s *Store) Get(path string) (*entities.BibliographicRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cache[NormalizePath(path)]
	if !ok {
		return nil, false
	}
	out := rec
	return &out, true
}

// Has reports whether a record exists for the path.
func (s *Store) Has(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[NormalizePath(path)]
	return ok
}

// Delete removes the record for the path and persists the catalog.
// Deleting an absent record is a no-op.
func (s *Store) Delete(path string) error {
	key := NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cache[key]; !ok {
		return nil
	}
	delete(s.cache, key)
	return s.flushLocked()
}

// Len returns the number of cataloged records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// flushLocked writes the catalog to disk with backup-then-commit.
// Caller holds the lock.
func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}

	backup := s.path + ".bak"
	hadPrevious := false
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, backup); err != nil {
			return fmt.Errorf("backing up catalog: %w", err)
		}
		hadPrevious = true
	}

	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err == nil {
		err = os.WriteFile(s.path, data, 0o644)
	}
	if err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(backup, s.path); restoreErr == nil {
				s.logger.Warn("catalog write failed, restored backup", "error", err)
			}
		}
		return fmt.Errorf("writing catalog: %w", err)
	}

	if hadPrevious {
		os.Remove(backup)
	}
	return nil
}
