package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/ports"
)

const (
	manifestFile    = "manifest.json"
	chunksFile      = "chunks.json"
	snapshotVersion = 1
)

// manifest describes a persisted snapshot.
type manifest struct {
	Version   int       `json:"version"`
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// persistedChunk is the on-disk form of a chunk.
type persistedChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	SourcePath string    `json:"source_path"`
	SourceName string    `json:"source_name"`
	Content    string    `json:"content"`
	Index      int       `json:"index"`
	Embedding  []float32 `json:"embedding"`
}

// Persist serializes the full index into dir. The snapshot is written
// to a sibling temp directory first and swapped in by rename, so a
// crash mid-write leaves the previous snapshot loadable.
func (ix *Index) Persist(dir string) error {
	ix.mu.RLock()
	chunks := make([]persistedChunk, len(ix.chunks))
	for i, c := range ix.chunks {
		chunks[i] = persistedChunk{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			SourcePath: c.SourcePath,
			SourceName: c.SourceName,
			Content:    c.Content,
			Index:      c.Index,
			Embedding:  c.Embedding,
		}
	}
	man := manifest{
		Version:   snapshotVersion,
		Documents: len(ix.docs),
		Chunks:    len(ix.chunks),
		CreatedAt: time.Now(),
	}
	ix.mu.RUnlock()

	tmp := dir + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clearing temp snapshot: %w", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}

	if err := writeJSONFile(filepath.Join(tmp, manifestFile), man); err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(tmp, chunksFile), chunks); err != nil {
		return err
	}

	// Swap in the fresh snapshot. The stale one is parked under a
	// distinct name until the rename lands, so there is no instant
	// without a loadable snapshot.
	stale := dir + ".stale"
	os.RemoveAll(stale)
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, stale); err != nil {
			return fmt.Errorf("parking stale snapshot: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		// Put the old snapshot back before reporting.
		if _, statErr := os.Stat(stale); statErr == nil {
			os.Rename(stale, dir)
		}
		return fmt.Errorf("committing snapshot: %w", err)
	}
	os.RemoveAll(stale)

	ix.logger.Debug("snapshot persisted", "dir", dir, "documents", man.Documents, "chunks", man.Chunks)
	return nil
}

// Load deserializes an index from dir. Absence and corruption are
// reported as distinct LoadError failures so the caller can decide to
// rebuild.
func Load(dir string, embedder ports.Embedder, chunker *Chunker, logger *slog.Logger) (*Index, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{Failure: LoadNotFound, Dir: dir, Err: err}
		}
		return nil, &LoadError{Failure: LoadCorrupt, Dir: dir, Err: err}
	}

	var man manifest
	if err := readJSONFile(filepath.Join(dir, manifestFile), &man); err != nil {
		return nil, &LoadError{Failure: LoadCorrupt, Dir: dir, Err: err}
	}
	if man.Version != snapshotVersion {
		return nil, &LoadError{Failure: LoadCorrupt, Dir: dir, Err: fmt.Errorf("unsupported snapshot version %d", man.Version)}
	}

	var persisted []persistedChunk
	if err := readJSONFile(filepath.Join(dir, chunksFile), &persisted); err != nil {
		return nil, &LoadError{Failure: LoadCorrupt, Dir: dir, Err: err}
	}

	ix := New(embedder, chunker, logger)
	ix.chunks = make([]entities.Chunk, len(persisted))
	for i, p := range persisted {
		ix.chunks[i] = entities.Chunk{
			ID:         p.ID,
			DocumentID: p.DocumentID,
			SourcePath: p.SourcePath,
			SourceName: p.SourceName,
			Content:    p.Content,
			Index:      p.Index,
			Embedding:  p.Embedding,
		}
	}
	ix.reindexLocked()

	ix.logger.Info("snapshot loaded", "dir", dir, "documents", len(ix.docs), "chunks", len(ix.chunks))
	return ix, nil
}

// writeJSONFile writes v as JSON and syncs before closing, so the
// rename that follows publishes durable bytes.
func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return f.Close()
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
