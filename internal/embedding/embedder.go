// Package embedding maps text to fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/hondana/internal/errs"
)

// Embedder produces vector embeddings for text. Implementations are
// deterministic for a fixed Model, and EmbedBatch returns exactly what
// calling Embed on each text would.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// Model identifies the vector space. Records from different models are never mixed.
	Model() string
	// MaxInputChars is the longest input, in characters, the embedder accepts.
	MaxInputChars() int
	Close() error
}

var (
	// ErrEmptyInput is wrapped by the EmbeddingError returned for blank text.
	ErrEmptyInput = errors.New("empty input")
	// ErrInputTooLong is wrapped by the EmbeddingError returned for over-long text.
	ErrInputTooLong = errors.New("input exceeds maximum length")
)

// CheckInput returns an invalid-input EmbeddingError when text is blank or
// longer than maxChars runes. Callers truncate or split before embedding.
func CheckInput(text string, maxChars int) error {
	if strings.TrimSpace(text) == "" {
		return &errs.EmbeddingError{Kind: errs.EmbeddingInvalidInput, Err: ErrEmptyInput}
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return &errs.EmbeddingError{
			Kind: errs.EmbeddingInvalidInput,
			Err:  fmt.Errorf("%w: %d > %d characters", ErrInputTooLong, utf8.RuneCountInString(text), maxChars),
		}
	}
	return nil
}

// TruncateInput shortens text to at most maxChars runes.
func TruncateInput(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	return string([]rune(text)[:maxChars])
}

// embedEach implements EmbedBatch for embedders without a native batch call.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
