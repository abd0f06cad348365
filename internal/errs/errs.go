// Package errs defines the error kinds the answering pipeline distinguishes.
// Each type wraps its cause so errors.Is and errors.As work through it.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// IngestionError means one document could not be read or chunked. The
// document is skipped; the rest of the corpus is still ingested.
type IngestionError struct {
	DocumentID string
	Path       string
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// EmbeddingKind classifies embedding failures.
type EmbeddingKind string

const (
	// EmbeddingInvalidInput is empty or over-long input. Never retried.
	EmbeddingInvalidInput EmbeddingKind = "invalid_input"
	// EmbeddingUnavailable is a capability failure (network, quota, timeout).
	EmbeddingUnavailable EmbeddingKind = "unavailable"
)

// EmbeddingError is returned by embedders.
type EmbeddingError struct {
	Kind EmbeddingKind
	Err  error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Kind, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexCorruptionError means the persisted index could not be loaded. It is
// recovered from by rebuilding from the source documents.
type IndexCorruptionError struct {
	Path string
	Err  error
}

func (e *IndexCorruptionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("index store corrupted: %v", e.Err)
	}
	return fmt.Sprintf("index store %s corrupted: %v", e.Path, e.Err)
}

func (e *IndexCorruptionError) Unwrap() error { return e.Err }

// RetrievalError is an invariant violation while searching a built index,
// such as a query vector of the wrong dimension.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationKind classifies generation failures.
type GenerationKind string

const (
	GenerationTransient GenerationKind = "transient"
	GenerationPermanent GenerationKind = "permanent"
)

// GenerationError is returned by generators and surfaced by the orchestrator.
type GenerationError struct {
	Kind     GenerationKind
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("generation (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s generation (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Transient reports whether the failure may succeed on retry.
func (e *GenerationError) Transient() bool { return e.Kind == GenerationTransient }

// IsTransientGeneration reports whether err is a transient GenerationError.
func IsTransientGeneration(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Transient()
}

// IsUnavailableEmbedding reports whether err is a retryable EmbeddingError.
func IsUnavailableEmbedding(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee) && ee.Kind == EmbeddingUnavailable
}

// transientMarkers are phrases remote APIs put in errors that are worth retrying.
var transientMarkers = []string{
	"resource_exhausted", "rate limit", "unavailable", "overloaded",
	"deadline exceeded", "timeout", "connection reset", "connection refused",
}

// transientStatus matches a retryable HTTP status only where a message reports
// one: at the start or after "error", "status", "code" or "http".
var transientStatus = regexp.MustCompile(`(?i)(?:^|\b(?:error|status|code|http)\b[\s:]*)(429|50[0234])\b`)

var unexpectedEOF = regexp.MustCompile(`(?i)\beof\b`)

// Retryable classifies a provider error. The status code of a Gemini APIError
// decides when present; anything else goes through LooksTransient.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if code, msg, ok := geminiStatus(err); ok {
		return TransientStatus(code, msg)
	}
	return LooksTransient(err)
}

// TransientStatus reports whether an HTTP status is worth retrying. A 429 that
// reports exhausted quota is not.
func TransientStatus(code int, msg string) bool {
	if strings.Contains(strings.ToLower(msg), "quota") {
		return false
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func geminiStatus(err error) (int, string, bool) {
	var v genai.APIError
	if errors.As(err, &v) && v.Code > 0 {
		return v.Code, v.Message, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil && p.Code > 0 {
		return p.Code, p.Message, true
	}
	return 0, "", false
}

// LooksTransient classifies a provider error by its message. Exhausted quota is
// permanent even when reported with a 429. Anything unrecognized (bad request,
// auth, unknown model) is permanent.
func LooksTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "quota") {
		return false
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return transientStatus.MatchString(msg) || unexpectedEOF.MatchString(msg)
}
