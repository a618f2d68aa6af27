// Package extractor provides the document extraction adapter.
// Text extraction and bibliographic-metadata heuristics run in an
// external service; this adapter only speaks its HTTP protocol.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"sweetseek/internal/domain/entities"
)

// ServiceExtractor implements ports.Extractor against an extraction
// HTTP service.
type ServiceExtractor struct {
	serviceURL string
	client     *http.Client
}

// NewServiceExtractor creates an extractor for the given service URL.
func NewServiceExtractor(serviceURL string) *ServiceExtractor {
	if serviceURL == "" {
		serviceURL = "http://localhost:8081"
	}
	return &ServiceExtractor{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// extractResponse is the service response for text extraction.
type extractResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
	Error string `json:"error,omitempty"`
}

// metadataResponse is the service response for bibliographic
// extraction.
type metadataResponse struct {
	Journal string   `json:"journal"`
	Year    string   `json:"year"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	DOI     string   `json:"doi"`
	Error   string   `json:"error,omitempty"`
}

// ExtractText sends the file to the service and returns its text.
func (e *ServiceExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	var result extractResponse
	if err := e.post(ctx, "/extract", path, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("extraction error: %s", result.Error)
	}
	return result.Text, nil
}

// ExtractBibliographic returns the bibliographic fields for the file.
// Fields the service could not determine come back as the catalog's
// conventional placeholders.
func (e *ServiceExtractor) ExtractBibliographic(ctx context.Context, path string) (*entities.BibliographicRecord, error) {
	var result metadataResponse
	if err := e.post(ctx, "/metadata", path, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("metadata extraction error: %s", result.Error)
	}

	rec := &entities.BibliographicRecord{
		Journal:  result.Journal,
		Year:     result.Year,
		Title:    result.Title,
		Authors:  result.Authors,
		DOI:      result.DOI,
		Filename: filepath.Base(path),
	}
	if rec.Journal == "" {
		rec.Journal = "Unknown Journal"
	}
	if rec.Year == "" {
		rec.Year = "N/A"
	}
	if rec.Title == "" {
		rec.Title = "Unknown Title"
	}
	if rec.DOI == "" {
		rec.DOI = "Not Available"
	}
	if rec.Authors == nil {
		rec.Authors = []string{}
	}
	return rec, nil
}

// Healthy reports whether the extraction service responds.
func (e *ServiceExtractor) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serviceURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// post uploads the file bytes to the given endpoint and decodes the
// JSON response into out.
func (e *ServiceExtractor) post(ctx context.Context, endpoint, path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serviceURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", filepath.Base(path))

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling extraction service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extraction service returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
