package embedding

import (
	"context"
	"sync/atomic"
)

// CountingEmbedder records how many texts reach the wrapped embedder.
type CountingEmbedder struct {
	Embedder
	texts atomic.Int64
	calls atomic.Int64
}

// NewCountingEmbedder wraps inner.
func NewCountingEmbedder(inner Embedder) *CountingEmbedder {
	return &CountingEmbedder{Embedder: inner}
}

// Embed counts one text.
func (e *CountingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.texts.Add(1)
	return e.Embedder.Embed(ctx, text)
}

// EmbedBatch counts every text in the batch.
func (e *CountingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int64(len(texts)))
	return e.Embedder.EmbedBatch(ctx, texts)
}

// Texts returns the number of texts embedded so far.
func (e *CountingEmbedder) Texts() int64 { return e.texts.Load() }

// Calls returns the number of Embed and EmbedBatch calls so far.
func (e *CountingEmbedder) Calls() int64 { return e.calls.Load() }
