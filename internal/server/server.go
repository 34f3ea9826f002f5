// Package server provides the HTTP API for kotae.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// DefaultMaxUploadBytes bounds uploaded files when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// QueryService answers questions and reports on past queries.
type QueryService interface {
	ProcessQuery(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	Stats(ctx context.Context) models.Stats
	History(limit int) models.HistoryPage
	ClearHistory()
}

// BatchService answers several questions at once.
type BatchService interface {
	Run(ctx context.Context, queries []string, maxResults int) (*models.BatchResponse, error)
}

// DocumentService ingests and removes documents.
type DocumentService interface {
	IngestText(ctx context.Context, in models.DocumentInput) (*models.IngestResult, error)
	IngestBytes(ctx context.Context, name string, data []byte, in models.DocumentInput) (*models.IngestResult, error)
	DeleteDocument(ctx context.Context, id string) (int, error)
}

// CatalogService lists ingested documents.
type CatalogService interface {
	Search(ctx context.Context, q string, limit int) ([]*models.CatalogEntry, int, error)
}

// Services are the components the API exposes.
type Services struct {
	Queries   QueryService
	Batches   BatchService
	Documents DocumentService
	Catalog   CatalogService
}

// Server is the HTTP server for the kotae API.
type Server struct {
	services       Services
	config         *config.ServerConfig
	maxUploadBytes int64
	logger         *zap.Logger
	server         *http.Server
}

// NewServer creates a server over services. maxUploadBytes of 0 or less uses DefaultMaxUploadBytes.
func NewServer(services Services, cfg *config.ServerConfig, maxUploadBytes int64, logger *zap.Logger) *Server {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		services:       services,
		config:         cfg,
		maxUploadBytes: maxUploadBytes,
		logger:         utils.OrNop(logger),
	}
	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/query/batch", s.handleBatch)
		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Post("/documents", s.handleIngestDocument)
		r.Post("/documents/upload", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Start starts the HTTP server and blocks until it stops. A graceful Stop is not an error.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server. A Start after Stop returns immediately.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requestLogger logs one line per request through zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}
