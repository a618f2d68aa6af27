// Package loader provides document loading adapters.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/ports"
)

// TextLoader loads plain-text corpus files (.txt, .md, .csv, .json).
type TextLoader struct{}

// NewTextLoader creates a new text document loader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load reads a text document from the given path.
func (l *TextLoader) Load(ctx context.Context, path string) (*entities.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stating %s: %w", path, err)
	}

	return &entities.Document{
		ID:        documentID(path),
		Name:      filepath.Base(path),
		Path:      path,
		Content:   string(content),
		CreatedAt: info.ModTime(),
		UpdatedAt: time.Now(),
	}, nil
}

// ExtractedLoader loads binary formats (.pdf, .docx) through the
// extraction capability.
type ExtractedLoader struct {
	extractor ports.Extractor
}

// NewExtractedLoader creates a loader backed by an extraction service.
func NewExtractedLoader(extractor ports.Extractor) *ExtractedLoader {
	return &ExtractedLoader{extractor: extractor}
}

// Load extracts the text of a binary document.
func (l *ExtractedLoader) Load(ctx context.Context, path string) (*entities.Document, error) {
	text, err := l.extractor.ExtractText(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stating %s: %w", path, err)
	}

	return &entities.Document{
		ID:        documentID(path),
		Name:      filepath.Base(path),
		Path:      path,
		Content:   text,
		CreatedAt: info.ModTime(),
		UpdatedAt: time.Now(),
	}, nil
}

// MultiLoader dispatches to the loader for a file's extension.
type MultiLoader struct {
	loaders map[string]ports.DocumentLoader
}

// NewMultiLoader creates a loader covering every supported corpus
// format.
func NewMultiLoader(extractor ports.Extractor) *MultiLoader {
	text := NewTextLoader()
	extracted := NewExtractedLoader(extractor)
	return &MultiLoader{
		loaders: map[string]ports.DocumentLoader{
			".txt":  text,
			".md":   text,
			".csv":  text,
			".json": text,
			".pdf":  extracted,
			".docx": extracted,
		},
	}
}

// Load reads the file with the loader registered for its extension.
func (m *MultiLoader) Load(ctx context.Context, path string) (*entities.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	l, ok := m.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
	return l.Load(ctx, path)
}

// documentID creates a deterministic ID for a document path.
func documentID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:8])
}
