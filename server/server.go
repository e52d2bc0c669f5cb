package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"scholarqa/answer"
	"scholarqa/logger"
	"scholarqa/models"
)

// Ingester is satisfied by *ingest.Orchestrator
type Ingester interface {
	Run(ctx context.Context, inputs []string) <-chan string
}

// Asker is satisfied by *answer.Service
type Asker interface {
	Ask(ctx context.Context, w io.Writer, req answer.Request) error
}

// CitationLookup is satisfied by *citation.Service
type CitationLookup interface {
	Lookup(ctx context.Context, doi string) (models.CitationMetadata, error)
}

// ArticleLister is satisfied by *db.SQLite
type ArticleLister interface {
	ListArticles(ctx context.Context, limit int) ([]models.Article, error)
}

// HealthFunc reports one dependency, nil means reachable
type HealthFunc func(ctx context.Context) error

type Deps struct {
	Ingest    Ingester
	Answers   Asker
	Citations CitationLookup
	Articles  ArticleLister
	Checks    map[string]HealthFunc
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}

	s.mux.HandleFunc("/health", corsMiddleware(s.healthHandler))
	s.mux.HandleFunc("/api/ingest", corsMiddleware(s.ingestHandler))
	s.mux.HandleFunc("/api/ask", corsMiddleware(s.askHandler))
	s.mux.HandleFunc("/api/citation", corsMiddleware(s.citationHandler))
	s.mux.HandleFunc("/api/articles", corsMiddleware(s.articlesHandler))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then drains open requests
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("========================================")
	logger.Info("Server is ready")
	logger.Info("URL: http://%s", addr)
	logger.Info("Endpoints:")
	logger.Info("   GET  /health")
	logger.Info("   POST /api/ingest")
	logger.Info("   POST /api/ask")
	logger.Info("   GET  /api/citation?doi=")
	logger.Info("   GET  /api/articles")
	logger.Info("========================================")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
