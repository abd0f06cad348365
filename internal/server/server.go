// Package server provides the HTTP API for hondana.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/search"
	"github.com/hyperjump/hondana/pkg/utils"
)

// Answerer answers questions.
type Answerer interface {
	Ask(ctx context.Context, q models.Question) (*models.Answer, error)
}

// Retriever returns passages without generating an answer.
type Retriever interface {
	Options(k int, book string) search.Options
	RetrieveWith(ctx context.Context, query string, opts search.Options) ([]models.Passage, error)
}

// Index is the ingestion side: syncing the corpus and reporting on it.
type Index interface {
	Sync(ctx context.Context) (*models.SyncReport, error)
	Rebuild(ctx context.Context) (*models.SyncReport, error)
	Status(ctx context.Context) (*models.IndexStatus, error)
	Documents(ctx context.Context) ([]*models.Document, error)
}

// Server is the HTTP server for the hondana API.
type Server struct {
	answerer  Answerer
	retriever Retriever
	index     Index
	config    *config.ServerConfig
	validate  *validator.Validate
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(answerer Answerer, retriever Retriever, index Index, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	logger = utils.OrNop(logger)
	return &Server{
		answerer:  answerer,
		retriever: retriever,
		index:     index,
		config:    cfg,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/ingest", s.handleIngest)
		r.Get("/documents", s.handleDocuments)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
