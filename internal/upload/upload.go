// Package upload stores incoming corpus files under the data
// directory, grouped by category.
package upload

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sweetseek/internal/domain/entities"
)

// Categories the corpus is organized into.
var Categories = []string{"papers", "datasets"}

// allowedExtensions are the formats accepted for upload. The plain
// .doc variant is accepted on upload even though indexing only covers
// the richer set.
var allowedExtensions = map[string]bool{
	".txt":  true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".md":   true,
	".csv":  true,
	".json": true,
}

// Uploader saves, lists and deletes corpus files.
type Uploader struct {
	dataDir string
	logger  *slog.Logger
}

// New creates an uploader and ensures the category directories exist.
func New(dataDir string, logger *slog.Logger) (*Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, category := range Categories {
		if err := os.MkdirAll(filepath.Join(dataDir, category), 0o755); err != nil {
			return nil, fmt.Errorf("creating category directory %s: %w", category, err)
		}
	}
	return &Uploader{dataDir: dataDir, logger: logger}, nil
}

// Save stores one uploaded file under the category directory. The name
// is sanitized and deduplicated with numeric suffixes. Per-file
// failures come back in the result, not as an error.
func (u *Uploader) Save(filename string, r io.Reader, category string) entities.UploadResult {
	if filename == "" {
		return entities.UploadResult{Success: false, Error: "no file selected"}
	}
	if !validCategory(category) {
		return entities.UploadResult{Success: false, Error: fmt.Sprintf("unknown category %q", category)}
	}

	name := SanitizeFilename(filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return entities.UploadResult{Success: false, Error: fmt.Sprintf("unsupported file format %q", ext)}
	}

	dir := filepath.Join(u.dataDir, category)
	name = dedupe(dir, name)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return entities.UploadResult{Success: false, Error: fmt.Sprintf("saving file: %v", err)}
	}
	size, err := io.Copy(f, r)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return entities.UploadResult{Success: false, Error: fmt.Sprintf("writing file: %v", err)}
	}

	u.logger.Info("file uploaded", "filename", name, "category", category, "size", size)
	return entities.UploadResult{
		Success:  true,
		Filename: name,
		Filepath: path,
		Size:     size,
		Category: category,
	}
}

// ListDocuments returns the stored files grouped by category.
func (u *Uploader) ListDocuments() (map[string][]entities.DocumentInfo, error) {
	out := make(map[string][]entities.DocumentInfo, len(Categories))
	for _, category := range Categories {
		out[category] = []entities.DocumentInfo{}
		entries, err := os.ReadDir(filepath.Join(u.dataDir, category))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("listing %s: %w", category, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			out[category] = append(out[category], entities.DocumentInfo{
				Filename: entry.Name(),
				Size:     info.Size(),
				Modified: info.ModTime(),
			})
		}
	}
	return out, nil
}

// Delete removes a stored file and returns its former absolute path.
func (u *Uploader) Delete(filename, category string) (string, error) {
	if !validCategory(category) {
		return "", fmt.Errorf("unknown category %q", category)
	}
	name := SanitizeFilename(filename)
	path := filepath.Join(u.dataDir, category, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("file does not exist: %s", name)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("deleting %s: %w", name, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u.logger.Info("file deleted", "filename", name, "category", category)
	return abs, nil
}

// SanitizeFilename strips directory components and replaces characters
// unsafe for a filesystem name.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		case r > 127:
			// Keep non-ASCII (corpus filenames are often Chinese).
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// dedupe appends _1, _2, ... until the name is unused in dir.
func dedupe(dir, name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for counter := 1; ; counter++ {
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, counter, ext)
	}
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}
