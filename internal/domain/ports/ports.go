// Package ports defines interfaces for external capabilities.
// Usecases depend on these abstractions; adapters implement them.
package ports

import (
	"context"
	"errors"
	"fmt"

	"sweetseek/internal/domain/entities"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts efficiently.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces an answer from a language model. Errors returned
// by implementations carry an explicit failure kind so callers can
// branch on classification instead of message text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Retriever returns the nearest chunks for a question, descending by
// similarity score.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]entities.RetrievedCandidate, error)
}

// Extractor pulls text and bibliographic metadata out of binary
// document formats (PDF, DOCX). The heuristics live behind this
// boundary, not in the core.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
	ExtractBibliographic(ctx context.Context, path string) (*entities.BibliographicRecord, error)
}

// Catalog is the key-value persistence for bibliographic records,
// keyed by normalized file path.
type Catalog interface {
	Save(path string, rec *entities.BibliographicRecord) error
	Get(path string) (*entities.BibliographicRecord, bool)
	Has(path string) bool
	Delete(path string) error
	Len() int
}

// DocumentLoader reads one source file into a Document.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*entities.Document, error)
}

// ConversationStore is the append-only log of answered questions.
type ConversationStore interface {
	Append(ctx context.Context, question, answer string, refs []entities.Reference, responseTime float64) (*entities.Conversation, error)
	List(ctx context.Context) ([]entities.Conversation, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// GenerationErrorKind classifies a generation failure.
type GenerationErrorKind int

const (
	// GenerationTransient marks failures expected to resolve with retry
	// (service overload, rate limiting).
	GenerationTransient GenerationErrorKind = iota
	// GenerationPermanent marks failures retrying cannot fix (bad
	// request, auth rejection).
	GenerationPermanent
	// GenerationNotConfigured marks a missing or unusable upstream
	// configuration (no API key).
	GenerationNotConfigured
)

// GenerationError is a classified failure from the Generator boundary.
type GenerationError struct {
	Kind GenerationErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	switch e.Kind {
	case GenerationTransient:
		return fmt.Sprintf("generation service busy: %v", e.Err)
	case GenerationNotConfigured:
		return fmt.Sprintf("generation service not configured: %v", e.Err)
	default:
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsTransientGeneration reports whether err is a retryable generation
// failure.
func IsTransientGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Kind == GenerationTransient
}

// IsNotConfiguredGeneration reports whether err means the generation
// upstream is not configured at all.
func IsNotConfiguredGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Kind == GenerationNotConfigured
}
