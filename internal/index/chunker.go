package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"sweetseek/internal/domain/entities"
)

// Default chunking geometry, in characters.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunker splits document content into overlapping character windows,
// breaking at word boundaries where possible.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker. Non-positive size or negative overlap
// fall back to the defaults.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits a document into ordered chunks. Empty content yields no
// chunks. Window and overlap arithmetic is in runes, never bytes: the
// corpus is largely Chinese and a byte window would cut multi-byte
// characters in half.
func (c *Chunker) Chunk(doc *entities.Document) []entities.Chunk {
	content := []rune(strings.TrimSpace(doc.Content))
	if len(content) == 0 {
		return nil
	}

	var chunks []entities.Chunk
	start := 0
	ordinal := 0

	for start < len(content) {
		end := start + c.size
		if end > len(content) {
			end = len(content)
		}

		// Prefer a word boundary over a mid-word cut.
		if end < len(content) {
			if lastSpace := lastSpaceIndex(content[start:end]); lastSpace > 0 {
				end = start + lastSpace
			}
		}

		text := strings.TrimSpace(string(content[start:end]))
		if len(text) > 0 {
			chunks = append(chunks, entities.Chunk{
				ID:         chunkID(doc.ID, ordinal),
				DocumentID: doc.ID,
				SourcePath: doc.Path,
				SourceName: doc.Name,
				Content:    text,
				Index:      ordinal,
			})
			ordinal++
		}

		next := end - c.overlap
		if next <= start {
			next = end
		}
		if next >= len(content) {
			break
		}
		start = next
	}

	return chunks
}

// lastSpaceIndex returns the index of the last space rune in window,
// or -1.
func lastSpaceIndex(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return -1
}

// chunkID creates a deterministic ID for a chunk.
func chunkID(docID string, ordinal int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", docID, ordinal)))
	return hex.EncodeToString(hash[:8])
}
