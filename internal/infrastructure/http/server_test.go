package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sweetseek/internal/catalog"
	"sweetseek/internal/conversation"
	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/usecases"
	"sweetseek/internal/index"
	"sweetseek/internal/lifecycle"
	"sweetseek/internal/tracker"
	"sweetseek/internal/upload"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r%5) / 5
	}
	return vec, nil
}

func (e fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	return "extracted " + filepath.Base(path), nil
}

func (fakeExtractor) ExtractBibliographic(ctx context.Context, path string) (*entities.BibliographicRecord, error) {
	return &entities.BibliographicRecord{Journal: "Test Journal", Filename: filepath.Base(path)}, nil
}

func (fakeExtractor) Healthy(ctx context.Context) bool { return true }

type fileLoader struct{}

func (fileLoader) Load(ctx context.Context, path string) (*entities.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &entities.Document{
		ID:      filepath.Base(path),
		Name:    filepath.Base(path),
		Path:    path,
		Content: string(data),
	}, nil
}

type fakeGenerator struct{ err error }

func (g fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "生成的回答", nil
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dataDir := t.TempDir()
	storageDir := t.TempDir()

	cat := catalog.New(filepath.Join(storageDir, "metadata.json"), nil)
	conv, err := conversation.NewStore(filepath.Join(storageDir, "conversations.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conv.Close() })

	manager := lifecycle.NewManager(lifecycle.Config{
		Tracker:    tracker.New(filepath.Join(storageDir, "indexed_files.json"), nil),
		Catalog:    cat,
		Extractor:  fakeExtractor{},
		Loader:     fileLoader{},
		Embedder:   fakeEmbedder{},
		Chunker:    index.NewChunker(100, 10),
		DataDir:    dataDir,
		PersistDir: filepath.Join(storageDir, "snapshot"),
	})

	uploader, err := upload.New(dataDir, nil)
	require.NoError(t, err)

	srv := NewServer(Config{
		Manager:       manager,
		Filter:        usecases.NewRetrievalFilter(manager, cat, nil),
		Composer:      usecases.NewAnswerComposer(fakeGenerator{}, conv, nil),
		Uploader:      uploader,
		Conversations: conv,
		Extractor:     fakeExtractor{},
	})
	return srv, dataDir
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func seedCorpus(t *testing.T, dataDir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(
		filepath.Join(dataDir, "papers", "sucrose.txt"),
		[]byte("sucrose is the reference sweetener with relative sweetness one"), 0o644))
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["extractor_service"])
}

func TestServer_HealthReportsExtractorDown(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.extractor = downChecker{}
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["extractor_service"])
}

type downChecker struct{}

func (downChecker) Healthy(ctx context.Context) bool { return false }

func TestServer_AskBeforeInit(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/ask",
		map[string]string{"question": "q"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestServer_InitThenAsk(t *testing.T) {
	srv, dataDir := newTestServer(t)
	handler := srv.Handler()
	seedCorpus(t, dataDir)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/init", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["documents_count"])

	rec, body = doJSON(t, handler, http.MethodPost, "/api/ask",
		map[string]any{"question": "蔗糖有多甜？"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "生成的回答", body["answer"])
	assert.NotNil(t, body["references"])

	// The conversation was logged.
	rec, body = doJSON(t, handler, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["conversations"], 1)
}

func TestServer_AskValidatesBody(t *testing.T) {
	srv, dataDir := newTestServer(t)
	handler := srv.Handler()
	seedCorpus(t, dataDir)
	doJSON(t, handler, http.MethodPost, "/api/init", nil)

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/ask", map[string]string{"question": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Search(t *testing.T) {
	srv, dataDir := newTestServer(t)
	handler := srv.Handler()
	seedCorpus(t, dataDir)
	doJSON(t, handler, http.MethodPost, "/api/init", nil)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/search",
		map[string]string{"query": "sucrose"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.NotZero(t, body["count"])
}

func TestServer_UploadAndDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	doJSON(t, handler, http.MethodPost, "/api/init", nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "uploaded.txt")
	require.NoError(t, err)
	part.Write([]byte("uploaded corpus text about aspartame"))
	mw.WriteField("category", "papers")
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "incremental", body["method"])

	rec2, body2 := doJSON(t, handler, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, float64(1), body2["total"])

	rec3, _ := doJSON(t, handler, http.MethodDelete, "/api/documents/papers/uploaded.txt", nil)
	require.Equal(t, http.StatusOK, rec3.Code, rec3.Body.String())

	_, body4 := doJSON(t, handler, http.MethodGet, "/api/documents", nil)
	assert.Equal(t, float64(0), body4["total"])
}

func TestServer_DeleteBeforeInitRefused(t *testing.T) {
	srv, dataDir := newTestServer(t)
	seedCorpus(t, dataDir)

	rec, body := doJSON(t, srv.Handler(), http.MethodDelete, "/api/documents/papers/sucrose.txt", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])

	// The file is untouched until the system is up.
	_, err := os.Stat(filepath.Join(dataDir, "papers", "sucrose.txt"))
	assert.NoError(t, err)
}

func TestServer_UploadRejectsEmptyForm(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StatsAndClear(t *testing.T) {
	srv, dataDir := newTestServer(t)
	handler := srv.Handler()
	seedCorpus(t, dataDir)
	doJSON(t, handler, http.MethodPost, "/api/init", nil)
	doJSON(t, handler, http.MethodPost, "/api/ask", map[string]string{"question": "q"})

	rec, body := doJSON(t, handler, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total_documents"])
	assert.Equal(t, float64(1), body["total_conversations"])
	assert.Equal(t, true, body["system_ready"])

	rec, _ = doJSON(t, handler, http.MethodPost, "/api/clear_conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, body = doJSON(t, handler, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, float64(0), body["total_conversations"])
}

func TestServer_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestServer_GenerationFailureSurfacesAsError(t *testing.T) {
	srv, dataDir := newTestServer(t)
	seedCorpus(t, dataDir)

	// Swap in a composer whose generator fails permanently.
	srv.composer = usecases.NewAnswerComposer(
		fakeGenerator{err: errors.New("hard failure")}, srv.conversations, nil)
	handler := srv.Handler()
	doJSON(t, handler, http.MethodPost, "/api/init", nil)

	rec, body := doJSON(t, handler, http.MethodPost, "/api/ask", map[string]string{"question": "q"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.True(t, strings.Contains(body["error"].(string), "query failed"))
}
