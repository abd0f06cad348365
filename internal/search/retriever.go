// Package search retrieves the passages most relevant to a question.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/embedding"
	"github.com/hyperjump/hondana/internal/keyword"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/vector"
)

var (
	// ErrEmptyQuery is returned for a blank query.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrIndexNotReady is returned before the first snapshot is published.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrUnknownBook is returned when a book name matches no document.
	ErrUnknownBook = errors.New("unknown book")
)

// Options controls a single retrieval.
type Options struct {
	// K is the number of passages to return; <= 0 uses the configured default.
	K int
	// MinScore drops passages scoring below it.
	MinScore float64
	// Book restricts the search to the document whose title best matches.
	Book string
}

// Retriever embeds queries and searches the current index snapshot.
type Retriever struct {
	embedder embedding.Embedder
	snapshot *vector.Ref
	titles   keyword.Resolver
	defaultK int
	maxK     int
	minScore float64
	logger   *zap.Logger
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithResolver sets the title resolver used for Options.Book.
func WithResolver(r keyword.Resolver) RetrieverOption {
	return func(rt *Retriever) { rt.titles = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(rt *Retriever) { rt.logger = l }
}

// NewRetriever creates a retriever. embedder must be the one the index was built with.
func NewRetriever(embedder embedding.Embedder, snapshot *vector.Ref, cfg config.RetrievalConfig, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder: embedder,
		snapshot: snapshot,
		defaultK: cfg.TopK,
		maxK:     cfg.MaxTopK,
		minScore: cfg.MinScore,
		logger:   zap.NewNop(),
	}
	if r.defaultK <= 0 {
		r.defaultK = 8
	}
	if r.maxK < r.defaultK {
		r.maxK = r.defaultK
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Options returns options with the configured threshold, k and book applied.
func (r *Retriever) Options(k int, book string) Options {
	return Options{K: k, MinScore: r.minScore, Book: book}
}

// Retrieve returns up to k passages scoring at least the configured minimum,
// best first. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error) {
	return r.RetrieveWith(ctx, query, r.Options(k, ""))
}

// RetrieveWith is Retrieve with explicit options.
func (r *Retriever) RetrieveWith(ctx context.Context, query string, opts Options) ([]models.Passage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	snap := r.snapshot.Load()
	if snap == nil {
		return nil, ErrIndexNotReady
	}

	k := opts.K
	if k <= 0 {
		k = r.defaultK
	}
	k = min(k, r.maxK)

	var keep vector.Filter
	if opts.Book != "" {
		match, err := r.resolve(ctx, opts.Book)
		if err != nil {
			return nil, err
		}
		keep = func(rec *models.EmbeddingRecord) bool { return rec.DocumentID == match.DocumentID }
	}

	vec, err := r.embedder.Embed(ctx, embedding.TruncateInput(query, r.embedder.MaxInputChars()))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := snap.SearchFunc(ctx, vec, k, keep)
	if err != nil {
		return nil, err
	}

	passages := make([]models.Passage, 0, len(hits))
	for _, h := range hits {
		if h.Score < opts.MinScore {
			continue
		}
		passages = append(passages, models.Passage{
			ChunkID:    h.Record.ChunkID,
			DocumentID: h.Record.DocumentID,
			Title:      h.Record.Title,
			Page:       h.Record.Page,
			Text:       h.Record.Text,
			Score:      h.Score,
		})
	}
	r.logger.Debug("retrieved passages",
		zap.Int("candidates", len(hits)), zap.Int("passages", len(passages)), zap.String("book", opts.Book))
	return passages, nil
}

func (r *Retriever) resolve(ctx context.Context, book string) (keyword.Match, error) {
	if r.titles == nil {
		return keyword.Match{}, fmt.Errorf("%w: %q", ErrUnknownBook, book)
	}
	match, ok, err := r.titles.Resolve(ctx, book)
	if err != nil {
		return keyword.Match{}, fmt.Errorf("resolve book: %w", err)
	}
	if !ok {
		return keyword.Match{}, fmt.Errorf("%w: %q", ErrUnknownBook, book)
	}
	return match, nil
}
