package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scholarqa/answer"
	"scholarqa/citation"
	"scholarqa/logger"
)

const (
	defaultArticleLimit = 50
	healthCheckTimeout  = 5 * time.Second
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// streamWriter flushes every write and remembers whether the body has started
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher}
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
	}
	return s.w.Write(p)
}

func (s *streamWriter) Flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.deps.Checks))
	healthy := true
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

type ingestRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}

	sw := newStreamWriter(w)
	for line := range s.deps.Ingest.Run(r.Context(), req.URLs) {
		if _, err := io.WriteString(sw, line+"\n"); err != nil {
			logger.Debug("ingest client went away: %v", err)
			continue
		}
		sw.Flush()
	}
}

func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req answer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sw := newStreamWriter(w)
	err := s.deps.Answers.Ask(r.Context(), sw, req)
	if err == nil {
		return
	}
	if sw.started {
		// headers are gone, the client keeps the partial answer
		logger.Error("answer stream failed: %v", err)
		return
	}

	switch {
	case errors.Is(err, answer.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, answer.ErrRetrieval), errors.Is(err, answer.ErrCompletion):
		logger.Error("ask failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("ask failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) citationHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	doi := strings.TrimSpace(r.URL.Query().Get("doi"))
	if doi == "" {
		writeError(w, http.StatusBadRequest, "doi is required")
		return
	}

	meta, err := s.deps.Citations.Lookup(r.Context(), doi)
	switch {
	case errors.Is(err, citation.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		logger.Error("citation lookup for %s failed: %v", doi, err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, meta)
	}
}

func (s *Server) articlesHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	limit := defaultArticleLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	articles, err := s.deps.Articles.ListArticles(r.Context(), limit)
	if err != nil {
		logger.Error("listing articles failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"articles": articles,
		"count":    len(articles),
	})
}
