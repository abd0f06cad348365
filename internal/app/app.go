// Package app wires configuration into the running components shared by the
// CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/answer"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/corpus"
	"github.com/hyperjump/hondana/internal/embedding"
	"github.com/hyperjump/hondana/internal/generation"
	"github.com/hyperjump/hondana/internal/indexer"
	"github.com/hyperjump/hondana/internal/keyword"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/search"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/internal/vector"
	"github.com/hyperjump/hondana/internal/watcher"
	"github.com/hyperjump/hondana/pkg/utils"
)

// App holds initialized components.
type App struct {
	Config       *config.Config
	Storage      storage.Storage
	Embedder     embedding.Embedder
	Snapshot     *vector.Ref
	Titles       *keyword.TitleIndex
	Source       *corpus.DirSource
	Pipeline     *indexer.Pipeline
	Retriever    *search.Retriever
	Generator    generation.Generator
	Orchestrator *answer.Orchestrator

	logger *zap.Logger
}

type options struct {
	generator generation.Generator
	embedder  embedding.Embedder
}

// Option overrides a component Build would otherwise create from config.
type Option func(*options)

// WithGenerator uses g instead of the configured provider.
func WithGenerator(g generation.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithEmbedder uses e instead of the configured provider.
func WithEmbedder(e embedding.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// Build creates every component from cfg. It does not ingest; call Sync (or
// Pipeline.Sync) before answering questions.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	logger = utils.OrNop(logger)
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Snapshot: &vector.Ref{}, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = store

	a.Embedder = o.embedder
	if a.Embedder == nil {
		emb, err := embedding.New(ctx, cfg.Embedding, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		a.Embedder = emb
	}
	if a.Embedder.Dimensions() != cfg.Embedding.Dimensions {
		logger.Warn("embedder dimensions differ from config",
			zap.Int("embedder", a.Embedder.Dimensions()), zap.Int("config", cfg.Embedding.Dimensions))
	}

	titles, err := keyword.NewTitleIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize title index: %w", err)
	}
	a.Titles = titles

	a.Source = corpus.NewDirSource(cfg.Corpus.Directory, cfg.Corpus.Extensions)
	a.Pipeline = indexer.NewPipeline(
		a.Source,
		indexer.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
		a.Embedder,
		a.Storage,
		a.Snapshot,
		indexer.WithLogger(logger),
		indexer.WithTitleIndex(a.Titles),
		indexer.WithBatchSize(cfg.Ingest.BatchSize),
	)

	// Repeated questions skip the embedder.
	queryEmbedder := embedding.Embedder(a.Embedder)
	if cfg.Embedding.CacheSize > 0 {
		queryEmbedder = embedding.NewCachedEmbedder(a.Embedder, cfg.Embedding.CacheSize)
	}
	a.Retriever = search.NewRetriever(queryEmbedder, a.Snapshot, cfg.Retrieval,
		search.WithResolver(a.Titles),
		search.WithLogger(logger),
	)

	a.Generator = o.generator
	if a.Generator == nil {
		gen, err := generation.New(ctx, cfg.Generation, logger)
		if err != nil {
			logger.Warn("generation unavailable; answers will fail until it is configured", zap.Error(err))
			gen = &generation.Unavailable{Provider: cfg.Generation.Provider, Err: err}
		}
		a.Generator = gen
	}

	a.Orchestrator = answer.NewOrchestrator(a.Retriever, a.Generator, cfg.Answer,
		answer.WithLogger(logger),
		answer.WithMaxTokens(cfg.Generation.MaxOutputTokens),
		answer.WithObserver(func(q models.Question, from, to answer.State) {
			logger.Debug("question state", zap.String("from", string(from)), zap.String("to", string(to)))
		}),
	)

	ok = true
	return a, nil
}

// Sync brings the index up to date with the corpus and logs the result.
func (a *App) Sync(ctx context.Context) (*models.SyncReport, error) {
	report, err := a.Pipeline.Sync(ctx)
	if err != nil {
		return nil, err
	}
	a.logReport(report)
	return report, nil
}

// Rebuild re-ingests the whole corpus.
func (a *App) Rebuild(ctx context.Context) (*models.SyncReport, error) {
	report, err := a.Pipeline.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	a.logReport(report)
	return report, nil
}

func (a *App) logReport(r *models.SyncReport) {
	a.logger.Info("index synced",
		zap.Bool("skipped", r.Skipped), zap.Bool("rebuilt", r.Rebuilt),
		zap.Int("added", r.Added), zap.Int("updated", r.Updated), zap.Int("removed", r.Removed),
		zap.Int("unchanged", r.Unchanged), zap.Int("failed", len(r.Failed)),
		zap.Int("chunks", r.Chunks), zap.Int64("duration_ms", r.DurationMS))
}

// Status reports the current index.
func (a *App) Status(ctx context.Context) (*models.IndexStatus, error) {
	return a.Pipeline.Status(ctx)
}

// Documents lists the ingested documents.
func (a *App) Documents(ctx context.Context) ([]*models.Document, error) {
	return a.Pipeline.Documents(ctx)
}

// Ask answers one question.
func (a *App) Ask(ctx context.Context, q models.Question) (*models.Answer, error) {
	return a.Orchestrator.Ask(ctx, q)
}

// NewWatcher returns a corpus watcher that re-syncs the index on changes.
func (a *App) NewWatcher(opts ...watcher.WatcherOption) *watcher.Watcher {
	opts = append([]watcher.WatcherOption{watcher.WithLogger(a.logger)}, opts...)
	return watcher.NewWatcher(a.Source.Dir(), a.Source.Allowed, func(ctx context.Context) {
		if _, err := a.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("re-ingestion after corpus change failed", zap.Error(err))
		}
	}, opts...)
}

// Close releases storage, embedder and title index.
func (a *App) Close() error {
	var errList []error
	if a.Titles != nil {
		errList = append(errList, a.Titles.Close())
	}
	if a.Embedder != nil {
		errList = append(errList, a.Embedder.Close())
	}
	if a.Storage != nil {
		errList = append(errList, a.Storage.Close())
	}
	return errors.Join(errList...)
}
