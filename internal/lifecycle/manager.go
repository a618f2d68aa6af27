// Package lifecycle orchestrates the vector index lifecycle:
// load-or-create, rebuild with backup and recovery, and incremental
// document ingestion.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/ports"
	"sweetseek/internal/index"
	"sweetseek/internal/tracker"
)

// State is the lifecycle state of the managed index.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRebuilding
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRebuilding:
		return "rebuilding"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ErrNotReady is returned for operations that need a ready index.
var ErrNotReady = errors.New("index not initialized")

// DefaultIncrementalThreshold is the upload count at or below which
// the incremental ingestion path is used instead of a full rebuild.
const DefaultIncrementalThreshold = 20

// Stats is the read-only view of the managed index, available in every
// state (zero values when uninitialized or failed).
type Stats struct {
	State          string `json:"state"`
	TotalDocuments int    `json:"total_documents"`
	TotalChunks    int    `json:"total_chunks"`
	SystemReady    bool   `json:"system_ready"`
	IndexPersisted bool   `json:"index_persisted"`
}

// Manager owns the index lifecycle. Mutations (load, rebuild,
// incremental add) are serialized by an exclusive section; searches
// read whichever snapshot is current and may observe pre-rebuild data
// during a rebuild, which is an accepted staleness window.
type Manager struct {
	mutateMu sync.Mutex   // serializes load/rebuild/add
	mu       sync.RWMutex // guards state and index pointer

	state State
	ix    *index.Index

	tracker   *tracker.Tracker
	catalog   ports.Catalog
	extractor ports.Extractor
	loader    ports.DocumentLoader
	embedder  ports.Embedder
	chunker   *index.Chunker
	logger    *slog.Logger

	dataDir              string
	persistDir           string
	incrementalThreshold int
}

// Config wires the manager's collaborators.
type Config struct {
	Tracker              *tracker.Tracker
	Catalog              ports.Catalog
	Extractor            ports.Extractor
	Loader               ports.DocumentLoader
	Embedder             ports.Embedder
	Chunker              *index.Chunker
	Logger               *slog.Logger
	DataDir              string
	PersistDir           string
	IncrementalThreshold int
}

// NewManager creates a manager in the uninitialized state.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IncrementalThreshold <= 0 {
		cfg.IncrementalThreshold = DefaultIncrementalThreshold
	}
	if cfg.Chunker == nil {
		cfg.Chunker = index.NewChunker(index.DefaultChunkSize, index.DefaultChunkOverlap)
	}
	return &Manager{
		state:                StateUninitialized,
		tracker:              cfg.Tracker,
		catalog:              cfg.Catalog,
		extractor:            cfg.Extractor,
		loader:               cfg.Loader,
		embedder:             cfg.Embedder,
		chunker:              cfg.Chunker,
		logger:               cfg.Logger,
		dataDir:              cfg.DataDir,
		persistDir:           cfg.PersistDir,
		incrementalThreshold: cfg.IncrementalThreshold,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether the index can serve queries.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.ix != nil
}

// LoadOrCreate loads the persisted snapshot, or builds the index from
// the data directory when no usable snapshot exists. Calling it on a
// ready system is a no-op.
func (m *Manager) LoadOrCreate(ctx context.Context) error {
	m.mutateMu.Lock()
	defer m.mutateMu.Unlock()

	if m.Ready() {
		return nil
	}

	ix, err := index.Load(m.persistDir, m.embedder, m.chunker, m.logger)
	if err == nil {
		m.setState(StateReady, ix)
		return nil
	}

	var loadErr *index.LoadError
	if errors.As(err, &loadErr) && loadErr.Failure == index.LoadNotFound {
		m.logger.Info("no index snapshot, building from data directory", "dir", m.persistDir)
	} else {
		m.logger.Warn("index snapshot unusable, rebuilding", "error", err)
	}

	ix, err = m.buildFresh(ctx)
	if err != nil {
		m.setState(StateFailed, nil)
		return fmt.Errorf("initial build: %w", err)
	}
	m.setState(StateReady, ix)
	return nil
}

// RebuildIndex rebuilds the index from scratch. Only valid on a ready
// system: before initialization there is nothing to rebuild, so callers
// get ErrNotReady and should run LoadOrCreate instead. The current
// snapshot is parked in a timestamped backup for the duration; on
// failure it is restored and the system stays queryable on the old
// data.
func (m *Manager) RebuildIndex(ctx context.Context) error {
	m.mutateMu.Lock()
	defer m.mutateMu.Unlock()

	m.mu.RLock()
	prev := m.ix
	prevState := m.state
	m.mu.RUnlock()
	if prevState != StateReady || prev == nil {
		return ErrNotReady
	}

	m.setState(StateRebuilding, prev)

	backupDir := ""
	if _, err := os.Stat(m.persistDir); err == nil {
		backupDir = fmt.Sprintf("%s.backup.%s", m.persistDir, time.Now().Format("20060102-150405"))
		if err := os.Rename(m.persistDir, backupDir); err != nil {
			m.setState(prevState, prev)
			return fmt.Errorf("backing up snapshot: %w", err)
		}
		syncDir(filepath.Dir(m.persistDir))
	}

	ix, err := m.buildFresh(ctx)
	if err != nil {
		// Restore the backup; the old snapshot stays authoritative.
		if backupDir != "" {
			os.RemoveAll(m.persistDir)
			if restoreErr := os.Rename(backupDir, m.persistDir); restoreErr != nil {
				m.logger.Error("backup restore failed", "backup", backupDir, "error", restoreErr)
			} else {
				syncDir(filepath.Dir(m.persistDir))
			}
		}
		m.setState(prevState, prev)
		return fmt.Errorf("rebuilding index: %w", err)
	}

	if backupDir != "" {
		os.RemoveAll(backupDir)
	}
	m.setState(StateReady, ix)
	m.logger.Info("index rebuilt", "documents", ix.DocumentCount(), "chunks", ix.ChunkCount())
	return nil
}

// AddDocuments runs the incremental path for the given files: catalog
// metadata for new PDFs, insert each document (per-document failures
// are isolated), persist, then mark the ingested files as tracked.
// Persistence failure is reported; per-document failures are not.
func (m *Manager) AddDocuments(ctx context.Context, paths []string) error {
	m.mutateMu.Lock()
	defer m.mutateMu.Unlock()

	m.mu.RLock()
	ix := m.ix
	ready := m.state == StateReady
	m.mu.RUnlock()
	if !ready || ix == nil {
		return ErrNotReady
	}

	if len(paths) == 0 {
		return nil
	}

	m.ensureMetadata(ctx, paths)

	var ingested []string
	for _, path := range paths {
		doc, err := m.loader.Load(ctx, path)
		if err != nil {
			m.logger.Warn("skipping unreadable document", "path", path, "error", err)
			continue
		}
		if err := ix.Insert(ctx, doc); err != nil {
			m.logger.Warn("skipping document, insert failed", "path", path, "error", err)
			continue
		}
		ingested = append(ingested, path)
	}

	if err := ix.Persist(m.persistDir); err != nil {
		return fmt.Errorf("persisting index: %w", err)
	}
	if len(ingested) > 0 {
		if err := m.tracker.MarkIndexed(ingested); err != nil {
			return fmt.Errorf("updating tracking: %w", err)
		}
	}

	m.logger.Info("incremental update complete", "requested", len(paths), "ingested", len(ingested))
	return nil
}

// UpdateFromDataDir detects files not yet tracked and ingests them
// incrementally. Returns the number of new files found.
func (m *Manager) UpdateFromDataDir(ctx context.Context) (int, error) {
	fresh, err := m.tracker.NewFiles(m.dataDir)
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if !m.Ready() {
		if err := m.LoadOrCreate(ctx); err != nil {
			return len(fresh), err
		}
		// The initial build already covered everything on disk.
		fresh, err = m.tracker.NewFiles(m.dataDir)
		if err != nil || len(fresh) == 0 {
			return 0, err
		}
	}
	return len(fresh), m.AddDocuments(ctx, fresh)
}

// IngestionMethod names the strategy chosen for a batch of uploads.
type IngestionMethod string

const (
	MethodIncremental IngestionMethod = "incremental"
	MethodFullRebuild IngestionMethod = "full_rebuild"
)

// ProcessUploads applies the ingestion decision policy: at or below
// the configured threshold the incremental path runs, above it the
// whole index is rebuilt.
func (m *Manager) ProcessUploads(ctx context.Context, uploadedCount int, allowIncremental bool) (IngestionMethod, error) {
	if allowIncremental && uploadedCount <= m.incrementalThreshold {
		_, err := m.UpdateFromDataDir(ctx)
		return MethodIncremental, err
	}
	if !m.Ready() {
		if err := m.LoadOrCreate(ctx); err != nil {
			return MethodFullRebuild, err
		}
		// A fresh initial build already scanned the uploads. A snapshot
		// load did not, which the tracker makes visible.
		fresh, err := m.tracker.NewFiles(m.dataDir)
		if err != nil || len(fresh) == 0 {
			return MethodFullRebuild, err
		}
	}
	return MethodFullRebuild, m.RebuildIndex(ctx)
}

// RemoveDocument drops the file's catalog record and rebuilds the
// index so no chunk of the deleted file survives.
func (m *Manager) RemoveDocument(ctx context.Context, path string) error {
	if err := m.catalog.Delete(path); err != nil {
		m.logger.Warn("catalog delete failed", "path", path, "error", err)
	}
	return m.RebuildIndex(ctx)
}

// Search delegates to the current index. Implements ports.Retriever.
func (m *Manager) Search(ctx context.Context, query string, topK int) ([]entities.RetrievedCandidate, error) {
	m.mu.RLock()
	ix := m.ix
	m.mu.RUnlock()
	if ix == nil {
		return nil, ErrNotReady
	}
	return ix.Search(ctx, query, topK)
}

// GetStats returns the read-only stats view. Available in any state.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	state := m.state
	ix := m.ix
	m.mu.RUnlock()

	stats := Stats{State: state.String()}
	if ix != nil {
		stats.TotalDocuments = ix.DocumentCount()
		stats.TotalChunks = ix.ChunkCount()
	}
	stats.SystemReady = state == StateReady && ix != nil
	if _, err := os.Stat(m.persistDir); err == nil {
		stats.IndexPersisted = true
	}
	return stats
}

func (m *Manager) setState(s State, ix *index.Index) {
	m.mu.Lock()
	m.state = s
	m.ix = ix
	m.mu.Unlock()
}

// buildFresh builds and persists a new index from every supported file
// under the data directory, cataloging bibliographic metadata for PDFs
// along the way, and resynchronizes tracking.
func (m *Manager) buildFresh(ctx context.Context) (*index.Index, error) {
	paths, err := m.tracker.ScanSupportedFiles(m.dataDir)
	if err != nil {
		return nil, err
	}

	m.ensureMetadata(ctx, paths)

	docs := make([]*entities.Document, 0, len(paths))
	for _, path := range paths {
		doc, err := m.loader.Load(ctx, path)
		if err != nil {
			m.logger.Warn("skipping unreadable document", "path", path, "error", err)
			continue
		}
		docs = append(docs, doc)
	}

	ix := index.New(m.embedder, m.chunker, m.logger)
	if err := ix.Build(ctx, docs); err != nil {
		return nil, err
	}
	if err := ix.Persist(m.persistDir); err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}
	if err := m.tracker.RebuildTracking(m.dataDir); err != nil {
		return nil, fmt.Errorf("rebuilding tracking: %w", err)
	}
	return ix, nil
}

// ensureMetadata extracts and caches bibliographic records for PDFs
// that have none yet. Extraction failures are logged and skipped.
func (m *Manager) ensureMetadata(ctx context.Context, paths []string) {
	extracted := 0
	for _, path := range paths {
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			continue
		}
		if m.catalog.Has(path) {
			continue
		}
		rec, err := m.extractor.ExtractBibliographic(ctx, path)
		if err != nil {
			m.logger.Warn("metadata extraction failed", "path", path, "error", err)
			continue
		}
		if err := m.catalog.Save(path, rec); err != nil {
			m.logger.Warn("metadata save failed", "path", path, "error", err)
			continue
		}
		extracted++
	}
	if extracted > 0 {
		m.logger.Info("bibliographic metadata extracted", "files", extracted)
	}
}

// syncDir fsyncs a directory so a just-completed rename is durable.
func syncDir(path string) {
	d, err := os.Open(path)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
