package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/answer"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/search"
)

type retrieveRequest struct {
	Query string `json:"query" validate:"required"`
	TopK  int    `json:"top_k" validate:"gte=0,lte=100"`
	Book  string `json:"book"`
}

type retrieveResponse struct {
	Passages []models.Passage `json:"passages"`
	Count    int              `json:"count"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var q models.Question
	if !s.decode(w, r, &q) {
		return
	}
	s.logger.Debug("ask request", zap.String("question", q.Text), zap.String("mode", string(q.Mode)), zap.String("book", q.Book))

	ans, err := s.answerer.Ask(r.Context(), q)
	if err != nil {
		status := statusFor(err)
		if ans == nil {
			s.respondError(w, status, err.Error())
			return
		}
		s.logger.Warn("answer failed", zap.String("id", ans.ID), zap.Error(err))
		s.respondJSON(w, status, ans)
		return
	}
	s.respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	passages, err := s.retriever.RetrieveWith(r.Context(), req.Query, s.retriever.Options(req.TopK, req.Book))
	if err != nil {
		s.logger.Warn("retrieve failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	if passages == nil {
		passages = []models.Passage{}
	}
	s.respondJSON(w, http.StatusOK, retrieveResponse{Passages: passages, Count: len(passages)})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	rebuild := false
	if v := r.URL.Query().Get("rebuild"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "rebuild must be a boolean")
			return
		}
		rebuild = b
	}
	s.logger.Debug("ingest request", zap.Bool("rebuild", rebuild))

	var report *models.SyncReport
	var err error
	if rebuild {
		report, err = s.index.Rebuild(r.Context())
	} else {
		report, err = s.index.Sync(r.Context())
	}
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.index.Documents(r.Context())
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.index.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var genErr *errs.GenerationError
	var embErr *errs.EmbeddingError
	switch {
	case errors.Is(err, answer.ErrEmptyQuestion), errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrUnknownBook):
		return http.StatusNotFound
	case errors.Is(err, search.ErrIndexNotReady):
		return http.StatusServiceUnavailable
	case errors.As(err, &genErr):
		return http.StatusBadGateway
	case errors.As(err, &embErr):
		if embErr.Kind == errs.EmbeddingInvalidInput {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
