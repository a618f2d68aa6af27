// Package entities contains core business entities.
// Pure domain objects with no knowledge of storage or external services.
package entities

import "time"

// Document represents a source document loaded from the research corpus
// (PDF, DOCX, TXT, MD, CSV, JSON).
type Document struct {
	ID        string
	Name      string
	Path      string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chunk is a bounded span of document text, the unit of embedding and
// retrieval.
type Chunk struct {
	ID         string
	DocumentID string
	SourcePath string // absolute path of the owning file
	SourceName string // base filename, for citation
	Content    string
	Index      int // ordinal position within the document
	Embedding  []float32
}

// BibliographicRecord holds the extracted citation fields for one source
// file, keyed in the catalog by its normalized path.
type BibliographicRecord struct {
	Journal      string    `json:"journal"`
	Year         string    `json:"year"`
	Title        string    `json:"title"`
	Authors      []string  `json:"authors"`
	DOI          string    `json:"doi"`
	Filename     string    `json:"filename"`
	FilePath     string    `json:"file_path,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// RetrievedCandidate is a transient per-query result: a chunk with its
// similarity score and, when available, the resolved bibliographic
// record. Score is always present (0.0 when the engine reported none).
type RetrievedCandidate struct {
	Chunk  Chunk
	Score  float64
	Record *BibliographicRecord
}

// Reference is one cited source in an answer, in retrieval order.
type Reference struct {
	RefID    string   `json:"ref_id"`
	Journal  string   `json:"journal"`
	Year     string   `json:"year"`
	Title    string   `json:"title"`
	Authors  []string `json:"authors"`
	DOI      string   `json:"doi"`
	Filename string   `json:"filename"`
	Score    float64  `json:"score"`
	Content  string   `json:"content"`
}

// Answer is the composed response for one question.
type Answer struct {
	Text         string
	References   []Reference
	ResponseTime float64 // seconds, rounded to hundredths
}

// Conversation is one append-only log entry per answered question.
type Conversation struct {
	ID           int64       `json:"id" db:"id"`
	Question     string      `json:"question" db:"question"`
	Answer       string      `json:"answer" db:"answer"`
	References   []Reference `json:"references" db:"-"`
	Timestamp    time.Time   `json:"timestamp" db:"timestamp"`
	ResponseTime float64     `json:"response_time" db:"response_time"`
}

// SearchHit is one retrieval-only search result (no generation).
type SearchHit struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
}

// DocumentInfo describes one stored corpus file for listings.
type DocumentInfo struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// UploadResult reports the outcome of storing a single uploaded file.
type UploadResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename,omitempty"`
	Filepath string `json:"filepath,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error,omitempty"`
}
