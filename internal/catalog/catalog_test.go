package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweetseek/internal/domain/entities"
)

func sampleRecord() *entities.BibliographicRecord {
	return &entities.BibliographicRecord{
		Journal:  "Food Chemistry",
		Year:     "2021",
		Title:    "Sweetness intensity of steviol glycosides",
		Authors:  []string{"Chen, L.", "Wang, H."},
		DOI:      "10.1000/fc.2021.001",
		Filename: "stevia.pdf",
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "metadata.json"), nil)

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixed }

	require.NoError(t, s.Save(`C:\data\papers\stevia.pdf`, sampleRecord()))

	// Lookup works with either slash convention.
	rec, ok := s.Get("C:/data/papers/stevia.pdf")
	require.True(t, ok)
	assert.Equal(t, "Food Chemistry", rec.Journal)
	assert.Equal(t, "C:/data/papers/stevia.pdf", rec.FilePath)
	assert.Equal(t, fixed, rec.LastModified)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "metadata.json"), nil)
	require.NoError(t, s.Save("/data/a.pdf", sampleRecord()))

	rec, ok := s.Get("/data/a.pdf")
	require.True(t, ok)
	rec.Journal = "mutated"

	again, _ := s.Get("/data/a.pdf")
	assert.Equal(t, "Food Chemistry", again.Journal)
}

func TestStore_HasAndLen(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "metadata.json"), nil)

	assert.False(t, s.Has("/data/a.pdf"))
	require.NoError(t, s.Save("/data/a.pdf", sampleRecord()))
	assert.True(t, s.Has("/data/a.pdf"))
	assert.Equal(t, 1, s.Len())
}

func TestStore_DeleteAbsentIsNoop(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "metadata.json"), nil)
	assert.NoError(t, s.Delete("/never/there.pdf"))
}

func TestStore_Delete(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "metadata.json"), nil)
	require.NoError(t, s.Save("/data/a.pdf", sampleRecord()))
	require.NoError(t, s.Delete("/data/a.pdf"))

	assert.False(t, s.Has("/data/a.pdf"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_PersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")

	s := New(path, nil)
	require.NoError(t, s.Save("/data/a.pdf", sampleRecord()))

	reopened := New(path, nil)
	rec, ok := reopened.Get("/data/a.pdf")
	require.True(t, ok)
	assert.Equal(t, "Sweetness intensity of steviol glycosides", rec.Title)
}

func TestStore_BackupRemovedAfterCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")

	s := New(path, nil)
	require.NoError(t, s.Save("/data/a.pdf", sampleRecord()))
	require.NoError(t, s.Save("/data/b.pdf", sampleRecord()))

	_, err := os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "backup must not outlive a successful commit")
}

func TestStore_CorruptCatalogStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte("not a catalog"), 0o644))

	s := New(path, nil)
	assert.Equal(t, 0, s.Len())
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "a/b/c.pdf", NormalizePath(`a\b\c.pdf`))
	assert.Equal(t, "a/b/c.pdf", NormalizePath("a/b/c.pdf"))
}
