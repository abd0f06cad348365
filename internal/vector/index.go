// Package vector holds the in-memory embedding index searched at query time.
package vector

import (
	"context"

	"github.com/hyperjump/hondana/internal/models"
)

// Searcher finds the records most similar to a query vector.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	SearchFunc(ctx context.Context, query []float32, k int, keep Filter) ([]Hit, error)
	Size() int
	Dimensions() int
}

// Hit is a single search result. Record points into the index and must not be modified.
type Hit struct {
	Record *models.EmbeddingRecord
	Score  float64 // cosine similarity, in [-1, 1]
}

// Filter reports whether a record may appear in search results.
type Filter func(*models.EmbeddingRecord) bool
