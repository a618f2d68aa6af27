// Package index implements the persistent vector index: full build,
// incremental insert, similarity search and snapshot persistence.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/ports"
)

// Index owns the corpus of embedded chunks and answers nearest-chunk
// queries. Reads take a shared lock; Build/Insert take an exclusive
// one, so searches never observe a half-mutated structure.
type Index struct {
	mu       sync.RWMutex
	embedder ports.Embedder
	chunker  *Chunker
	logger   *slog.Logger

	chunks []entities.Chunk
	docs   map[string][]int // docID -> positions in chunks
}

// New creates an empty index.
func New(embedder ports.Embedder, chunker *Chunker, logger *slog.Logger) *Index {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		embedder: embedder,
		chunker:  chunker,
		logger:   logger,
		docs:     make(map[string][]int),
	}
}

// Build constructs the index from scratch over the given documents.
// A single failing document is skipped and logged; Build returns a
// BuildError only when nothing at all could be embedded, which is the
// signature of an unavailable embedding capability.
func (ix *Index) Build(ctx context.Context, docs []*entities.Document) error {
	ix.mu.Lock()
	ix.chunks = nil
	ix.docs = make(map[string][]int)
	ix.mu.Unlock()

	var lastErr error
	ok := 0
	for _, doc := range docs {
		if err := ix.Insert(ctx, doc); err != nil {
			lastErr = err
			ix.logger.Warn("skipping document during build", "path", doc.Path, "error", err)
			continue
		}
		ok++
	}

	if len(docs) > 0 && ok == 0 {
		return &BuildError{Err: lastErr}
	}
	ix.logger.Info("index built", "documents", ok, "chunks", ix.ChunkCount())
	return nil
}

// Insert embeds one document and adds its chunks to the live
// structure. The index is only mutated after embedding succeeds, so a
// failed insert leaves previously inserted documents untouched.
// Inserting the same document again replaces its chunks.
func (ix *Index) Insert(ctx context.Context, doc *entities.Document) error {
	chunks := ix.chunker.Chunk(doc)
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", doc.Name, err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding %s: got %d vectors for %d chunks", doc.Name, len(embeddings), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.removeLocked(doc.ID)
	positions := make([]int, 0, len(chunks))
	for _, c := range chunks {
		positions = append(positions, len(ix.chunks))
		ix.chunks = append(ix.chunks, c)
	}
	ix.docs[doc.ID] = positions
	return nil
}

// Search embeds the query and returns the topK nearest chunks in
// descending score order.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]entities.RetrievedCandidate, error) {
	if topK <= 0 {
		topK = 3
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		chunk entities.Chunk
		score float64
	}
	results := make([]scored, 0, len(ix.chunks))
	for _, chunk := range ix.chunks {
		results = append(results, scored{chunk: chunk, score: cosineSimilarity(queryVec, chunk.Embedding)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].chunk.ID < results[j].chunk.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	candidates := make([]entities.RetrievedCandidate, len(results))
	for i, r := range results {
		candidates[i] = entities.RetrievedCandidate{Chunk: r.chunk, Score: r.score}
	}
	return candidates, nil
}

// DocumentCount returns the number of indexed documents.
func (ix *Index) DocumentCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// ChunkCount returns the number of indexed chunks.
func (ix *Index) ChunkCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// removeLocked drops all chunks of a document. Caller holds the write
// lock.
func (ix *Index) removeLocked(docID string) {
	positions, ok := ix.docs[docID]
	if !ok {
		return
	}
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		drop[p] = true
	}

	kept := make([]entities.Chunk, 0, len(ix.chunks)-len(positions))
	for i, c := range ix.chunks {
		if !drop[i] {
			kept = append(kept, c)
		}
	}
	ix.chunks = kept

	delete(ix.docs, docID)
	ix.reindexLocked()
}

// reindexLocked rebuilds the docID -> positions map from the chunk
// slice.
func (ix *Index) reindexLocked() {
	ix.docs = make(map[string][]int, len(ix.docs))
	for i, c := range ix.chunks {
		ix.docs[c.DocumentID] = append(ix.docs[c.DocumentID], i)
	}
}

// cosineSimilarity computes the cosine of the angle between two
// vectors. Mismatched or empty vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
