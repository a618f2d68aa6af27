// Package usecases contains application business rules: retrieval
// filtering and grounded answer composition.
package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/ports"
)

// Retrieval defaults. The fallback size is a product choice, kept
// configurable rather than hard-coded truth.
const (
	DefaultSimilarityThreshold = 0.38
	DefaultMaxCandidates       = 50
	DefaultFallbackTopK        = 3
	searchPreviewTopK          = 3
	searchPreviewLimit         = 300
)

// RetrievalFilter retrieves candidate chunks for a question, applies a
// similarity threshold with a guaranteed-minimum fallback, and resolves
// bibliographic records for the survivors.
type RetrievalFilter struct {
	retriever    ports.Retriever
	catalog      ports.Catalog
	fallbackTopK int
	logger       *slog.Logger
}

// NewRetrievalFilter creates a filter over the given retriever and
// catalog.
func NewRetrievalFilter(retriever ports.Retriever, catalog ports.Catalog, logger *slog.Logger) *RetrievalFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalFilter{
		retriever:    retriever,
		catalog:      catalog,
		fallbackTopK: DefaultFallbackTopK,
		logger:       logger,
	}
}

// Filter returns the candidates for a question that score at or above
// threshold, in descending score order. When nothing passes but
// something was retrieved, the top fallback candidates are kept anyway
// so the answer stage always has some grounding context.
func (f *RetrievalFilter) Filter(ctx context.Context, question string, threshold float64, maxCandidates int) ([]entities.RetrievedCandidate, error) {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}

	raw, err := f.retriever.Search(ctx, question, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("retrieving candidates: %w", err)
	}

	var kept []entities.RetrievedCandidate
	for _, c := range raw {
		c.Score = clampScore(c.Score)
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}

	if len(kept) == 0 && len(raw) > 0 {
		n := f.fallbackTopK
		if n > len(raw) {
			n = len(raw)
		}
		kept = make([]entities.RetrievedCandidate, n)
		for i := 0; i < n; i++ {
			kept[i] = raw[i]
			kept[i].Score = clampScore(kept[i].Score)
		}
		f.logger.Info("no candidate passed threshold, keeping top results",
			"threshold", threshold, "kept", n)
	}

	f.logger.Debug("retrieval filtered",
		"retrieved", len(raw), "kept", len(kept), "threshold", threshold)

	for i := range kept {
		kept[i].Record = f.resolveRecord(kept[i].Chunk)
	}
	return kept, nil
}

// Search is the retrieval-only operation: top chunks with truncated
// previews, no generation.
func (f *RetrievalFilter) Search(ctx context.Context, query string) ([]entities.SearchHit, error) {
	candidates, err := f.retriever.Search(ctx, query, searchPreviewTopK)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	hits := make([]entities.SearchHit, len(candidates))
	for i, c := range candidates {
		hits[i] = entities.SearchHit{
			Title:    c.Chunk.SourceName,
			Content:  truncate(c.Chunk.Content, searchPreviewLimit),
			Score:    clampScore(c.Score),
			Filename: c.Chunk.SourceName,
			Path:     c.Chunk.SourcePath,
		}
	}
	return hits, nil
}

// resolveRecord looks the chunk's owning file up in the catalog; when
// absent it synthesizes a placeholder record so every candidate
// carries citation fields.
func (f *RetrievalFilter) resolveRecord(chunk entities.Chunk) *entities.BibliographicRecord {
	if chunk.SourcePath != "" {
		if rec, ok := f.catalog.Get(chunk.SourcePath); ok {
			return rec
		}
	}

	journal := "Unknown"
	lowered := strings.ToLower(chunk.SourcePath + " " + chunk.SourceName)
	if strings.Contains(lowered, "dataset") {
		journal = "dataset"
	}
	return &entities.BibliographicRecord{
		Journal:  journal,
		Year:     "N/A",
		Title:    chunk.SourceName,
		Authors:  []string{},
		DOI:      "Not Available",
		Filename: chunk.SourceName,
	}
}

// clampScore keeps similarity scores inside [0,1]; values the engine
// reports outside the range collapse to the boundary instead of
// propagating.
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// truncate cuts s to limit runes, appending a continuation marker when
// anything was cut.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
