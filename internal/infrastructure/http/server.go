// Package http provides the JSON API server.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sweetseek/internal/domain/entities"
	"sweetseek/internal/domain/ports"
	"sweetseek/internal/domain/usecases"
	"sweetseek/internal/lifecycle"
	"sweetseek/internal/upload"
)

const maxUploadBytes = 100 << 20 // 100 MiB per request

// HealthChecker reports whether an external dependency is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Server exposes the question-answering system over HTTP.
type Server struct {
	manager       *lifecycle.Manager
	filter        *usecases.RetrievalFilter
	composer      *usecases.AnswerComposer
	uploader      *upload.Uploader
	conversations ports.ConversationStore
	extractor     HealthChecker
	logger        *slog.Logger
	addr          string

	defaultThreshold     float64
	defaultMaxCandidates int
}

// Config wires the server's collaborators.
type Config struct {
	Manager       *lifecycle.Manager
	Filter        *usecases.RetrievalFilter
	Composer      *usecases.AnswerComposer
	Uploader      *upload.Uploader
	Conversations ports.ConversationStore
	Extractor     HealthChecker // optional, surfaced by /api/health
	Logger        *slog.Logger
	Addr          string

	DefaultThreshold     float64
	DefaultMaxCandidates int
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = usecases.DefaultSimilarityThreshold
	}
	if cfg.DefaultMaxCandidates <= 0 {
		cfg.DefaultMaxCandidates = usecases.DefaultMaxCandidates
	}
	return &Server{
		manager:              cfg.Manager,
		filter:               cfg.Filter,
		composer:             cfg.Composer,
		uploader:             cfg.Uploader,
		conversations:        cfg.Conversations,
		extractor:            cfg.Extractor,
		logger:               cfg.Logger,
		addr:                 cfg.Addr,
		defaultThreshold:     cfg.DefaultThreshold,
		defaultMaxCandidates: cfg.DefaultMaxCandidates,
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents/{category}/{filename}", s.handleDeleteDocument)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/conversations", s.handleConversations)
	mux.HandleFunc("POST /api/clear_conversations", s.handleClearConversations)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the HTTP server until ctx is done, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // answers wait on generation retries
	}

	s.logger.Info("server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if s.manager.Ready() {
		stats := s.manager.GetStats()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"message":         "system already initialized",
			"documents_count": stats.TotalDocuments,
		})
		return
	}

	if err := s.manager.LoadOrCreate(r.Context()); err != nil {
		s.logger.Error("initialization failed", "error", err)
		writeError(w, http.StatusInternalServerError, "system initialization failed: "+err.Error())
		return
	}

	stats := s.manager.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "system initialized",
		"documents_count": stats.TotalDocuments,
	})
}

type askRequest struct {
	Question            string   `json:"question"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	MaxResults          *int     `json:"max_results,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Ready() {
		writeError(w, http.StatusBadRequest, "system not initialized")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}

	threshold := s.defaultThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}
	maxResults := s.defaultMaxCandidates
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}

	started := time.Now()
	candidates, err := s.filter.Filter(r.Context(), req.Question, threshold, maxResults)
	if err != nil {
		s.logger.Error("retrieval failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed: "+err.Error())
		return
	}

	answer, err := s.composer.Answer(r.Context(), req.Question, candidates, started)
	if err != nil {
		s.logger.Error("answer generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"answer":        answer.Text,
		"references":    answer.References,
		"response_time": answer.ResponseTime,
	})
}

type searchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Ready() {
		writeError(w, http.StatusBadRequest, "system not initialized")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	hits, err := s.filter.Search(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": hits,
		"count":   len(hits),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}

	category := r.FormValue("category")
	if category == "" {
		category = "papers"
	}
	incremental := r.FormValue("incremental") != "false"

	results := make([]entities.UploadResult, 0, len(files))
	succeeded := 0
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			results = append(results, entities.UploadResult{Success: false, Error: err.Error()})
			continue
		}
		res := s.uploader.Save(fh.Filename, f, category)
		f.Close()
		if res.Success {
			succeeded++
		}
		results = append(results, res)
	}

	if succeeded == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "all uploads failed",
			"results": results,
		})
		return
	}

	method, err := s.manager.ProcessUploads(r.Context(), succeeded, incremental)
	if err != nil {
		s.logger.Error("index update after upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "files uploaded but index update failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("uploaded %d files", succeeded),
		"method":  method,
		"results": results,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.uploader.ListDocuments()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing documents failed: "+err.Error())
		return
	}
	total := 0
	for _, list := range docs {
		total += len(list)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"documents": docs,
		"total":     total,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if !s.manager.Ready() {
		writeError(w, http.StatusBadRequest, "system not initialized")
		return
	}

	category := r.PathValue("category")
	filename := r.PathValue("filename")

	path, err := s.uploader.Delete(filename, category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.manager.RemoveDocument(r.Context(), path); err != nil {
		s.logger.Error("reindex after delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "file deleted but index rebuild failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "deleted " + filename,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.GetStats()
	convCount, err := s.conversations.Count(r.Context())
	if err != nil {
		s.logger.Warn("conversation count failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"total_documents":     stats.TotalDocuments,
		"total_chunks":        stats.TotalChunks,
		"total_conversations": convCount,
		"system_ready":        stats.SystemReady,
		"index_persisted":     stats.IndexPersisted,
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.conversations.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing conversations failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"conversations": conversations,
	})
}

func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clearing conversations failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "conversation history cleared",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.extractor != nil {
		body["extractor_service"] = s.extractor.Healthy(r.Context())
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
