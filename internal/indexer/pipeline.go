// Package indexer turns the corpus into embedding records: chunking, and the
// ingestion pipeline that keeps the persisted index in step with the corpus.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/corpus"
	"github.com/hyperjump/hondana/internal/embedding"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/extract"
	"github.com/hyperjump/hondana/internal/fileid"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/internal/vector"
)

// TitleIndexer is refreshed with the stored documents after each ingestion.
type TitleIndexer interface {
	Replace(docs []*models.Document) error
}

// Pipeline keeps the index in step with the corpus. Runs are serialized; the
// searchable snapshot is replaced atomically after each successful commit.
type Pipeline struct {
	mu        sync.Mutex
	source    corpus.Source
	extractor *extract.Extractor
	chunker   *Chunker
	embedder  embedding.Embedder
	store     storage.Storage
	snapshot  *vector.Ref
	titles    TitleIndexer
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithTitleIndex sets the title index refreshed after each ingestion.
func WithTitleIndex(t TitleIndexer) PipelineOption {
	return func(p *Pipeline) { p.titles = t }
}

// WithBatchSize sets how many chunks go into one EmbedBatch call.
func WithBatchSize(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// NewPipeline creates an ingestion pipeline publishing snapshots to ref.
func NewPipeline(
	source corpus.Source,
	chunker *Chunker,
	embedder embedding.Embedder,
	store storage.Storage,
	ref *vector.Ref,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		source:    source,
		extractor: extract.NewExtractor(),
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		snapshot:  ref,
		batchSize: 64,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SettingsKey identifies the embedder and chunking parameters. Records built
// under a different key are never mixed with new ones.
func (p *Pipeline) SettingsKey() string {
	return fmt.Sprintf("model=%s;dims=%d;chunk=%d;overlap=%d",
		p.embedder.Model(), p.embedder.Dimensions(), p.chunker.Size(), p.chunker.Overlap())
}

// Sync brings the index up to date with the corpus. When the stored
// fingerprint matches the corpus and a snapshot is loaded, nothing is
// embedded and the report has Skipped set.
//
// Unreadable documents are skipped and listed in the report. An embedding
// failure aborts the run without committing anything.
func (p *Pipeline) Sync(ctx context.Context) (*models.SyncReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync(ctx, false)
}

// Rebuild discards the stored index and ingests every document again.
func (p *Pipeline) Rebuild(ctx context.Context) (*models.SyncReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync(ctx, true)
}

func (p *Pipeline) sync(ctx context.Context, rebuild bool) (*models.SyncReport, error) {
	start := p.now()
	report := &models.SyncReport{}

	files, err := p.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list corpus: %w", err)
	}
	settings := p.SettingsKey()
	current := make(map[string]string, len(files))
	for _, f := range files {
		current[f.ID()] = f.Hash
	}
	fingerprint := fileid.Fingerprint(settings, current)

	state, err := p.store.State(ctx)
	if err != nil {
		if !p.recoverCorruption(ctx, err) {
			return nil, err
		}
		state, rebuild = nil, true
	}
	if !rebuild && !p.compatible(state) {
		if state != nil {
			p.logger.Info("embedder or chunking settings changed; rebuilding index",
				zap.String("stored_model", state.EmbedderModel), zap.String("model", p.embedder.Model()))
		}
		rebuild = true
	}
	if !rebuild && p.snapshot.Load() == nil {
		if err := p.publish(ctx); err != nil {
			if !p.recoverCorruption(ctx, err) {
				return nil, err
			}
			rebuild = true
		}
	}
	if !rebuild && state.Fingerprint == fingerprint && p.snapshot.Load() != nil {
		report.Skipped = true
		report.Fingerprint = state.Fingerprint
		report.Unchanged = len(files)
		report.DurationMS = p.now().Sub(start).Milliseconds()
		p.logger.Debug("index up to date", zap.String("fingerprint", fingerprint))
		return report, nil
	}

	existing := map[string]*models.Document{}
	if !rebuild {
		docs, err := p.store.ListDocuments(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stored documents: %w", err)
		}
		for _, d := range docs {
			existing[d.ID] = d
		}
	}

	cs := &storage.Changeset{Reset: rebuild}
	report.Rebuilt = rebuild
	committed := make(map[string]string, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := f.ID()
		old, known := existing[id]
		if known && old.ContentHash == f.Hash {
			committed[id] = old.ContentHash
			report.Unchanged++
			continue
		}

		doc, records, err := p.ingest(ctx, f)
		if err != nil {
			var ingestErr *errs.IngestionError
			if !errors.As(err, &ingestErr) {
				return nil, err
			}
			p.logger.Warn("skipping document", zap.String("path", f.RelPath), zap.Error(err))
			report.Failed = append(report.Failed, f.RelPath)
			if known {
				committed[id] = old.ContentHash
			}
			continue
		}
		cs.Documents = append(cs.Documents, doc)
		cs.Records = append(cs.Records, records...)
		committed[id] = f.Hash
		report.Chunks += len(records)
		if known {
			report.Updated++
		} else {
			report.Added++
		}
	}
	for id := range existing {
		if _, ok := current[id]; !ok {
			cs.DeleteDocuments = append(cs.DeleteDocuments, id)
			report.Removed++
		}
	}

	cs.State = &models.IndexState{
		Fingerprint:   fileid.Fingerprint(settings, committed),
		EmbedderModel: p.embedder.Model(),
		Dimensions:    p.embedder.Dimensions(),
		ChunkSize:     p.chunker.Size(),
		ChunkOverlap:  p.chunker.Overlap(),
		UpdatedAt:     p.now().UTC(),
	}
	if err := p.store.Commit(ctx, cs); err != nil {
		return nil, fmt.Errorf("commit index: %w", err)
	}
	if err := p.publish(ctx); err != nil {
		return nil, fmt.Errorf("load committed index: %w", err)
	}

	report.Fingerprint = cs.State.Fingerprint
	report.DurationMS = p.now().Sub(start).Milliseconds()
	p.logger.Info("index synchronized",
		zap.Bool("rebuilt", report.Rebuilt),
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("removed", report.Removed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", len(report.Failed)),
		zap.Int("chunks", report.Chunks),
		zap.Int64("duration_ms", report.DurationMS),
	)
	return report, nil
}

// compatible reports whether records under state can be reused as they are.
func (p *Pipeline) compatible(state *models.IndexState) bool {
	return state != nil &&
		state.EmbedderModel == p.embedder.Model() &&
		state.Dimensions == p.embedder.Dimensions() &&
		state.ChunkSize == p.chunker.Size() &&
		state.ChunkOverlap == p.chunker.Overlap()
}

// recoverCorruption resets the store when err is an IndexCorruptionError.
// It reports whether the caller should continue with a rebuild.
func (p *Pipeline) recoverCorruption(ctx context.Context, err error) bool {
	var corrupt *errs.IndexCorruptionError
	if !errors.As(err, &corrupt) {
		return false
	}
	p.logger.Warn("index store corrupted; rebuilding", zap.String("path", corrupt.Path), zap.Error(corrupt.Err))
	if resetErr := p.store.Reset(ctx); resetErr != nil {
		p.logger.Error("failed to reset index store", zap.Error(resetErr))
	}
	return true
}

// ingest extracts, chunks and embeds one file.
func (p *Pipeline) ingest(ctx context.Context, f corpus.SourceFile) (*models.Document, []models.EmbeddingRecord, error) {
	id := f.ID()
	fail := func(err error) error {
		return &errs.IngestionError{DocumentID: id, Path: f.RelPath, Err: err}
	}

	pages, err := p.extractor.Extract(f.AbsPath)
	if err != nil {
		return nil, nil, fail(err)
	}
	pages = PreprocessPages(pages)
	chunks := p.chunker.Chunk(id, pages)
	if len(chunks) == 0 {
		return nil, nil, fail(errors.New("no extractable text"))
	}

	title := f.Title()
	records := make([]models.EmbeddingRecord, 0, len(chunks))
	for batchStart := 0; batchStart < len(chunks); batchStart += p.batchSize {
		batch := chunks[batchStart:min(batchStart+p.batchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, nil, fmt.Errorf("embed %s: %w", f.RelPath, err)
		}
		if len(vectors) != len(batch) {
			return nil, nil, &errs.EmbeddingError{
				Kind: errs.EmbeddingUnavailable,
				Err:  fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch)),
			}
		}
		for i, ch := range batch {
			records = append(records, models.EmbeddingRecord{
				ChunkID:    ch.ID,
				DocumentID: id,
				Title:      title,
				Page:       ch.Page,
				ChunkIndex: ch.Index,
				Text:       ch.Text,
				Vector:     vectors[i],
			})
		}
	}
	p.logger.Debug("document embedded", zap.String("path", f.RelPath), zap.Int("chunks", len(records)))

	doc := &models.Document{
		ID:          id,
		Path:        f.RelPath,
		Title:       title,
		ContentHash: f.Hash,
		PageCount:   len(pages),
		SizeBytes:   f.Size,
		ChunkCount:  len(records),
		IngestedAt:  p.now().UTC(),
	}
	return doc, records, nil
}

// publish loads the stored records into a new snapshot, swaps it in and
// refreshes the title index.
func (p *Pipeline) publish(ctx context.Context) error {
	records, err := p.store.LoadRecords(ctx)
	if err != nil {
		return err
	}
	idx, err := vector.FromRecords(p.embedder.Dimensions(), records)
	if err != nil {
		return &errs.IndexCorruptionError{Path: "records", Err: err}
	}
	p.snapshot.Swap(idx)

	if p.titles != nil {
		docs, err := p.store.ListDocuments(ctx)
		if err != nil {
			return fmt.Errorf("list stored documents: %w", err)
		}
		if err := p.titles.Replace(docs); err != nil {
			p.logger.Warn("failed to refresh title index", zap.Error(err))
		}
	}
	return nil
}

// Status reports the current index.
func (p *Pipeline) Status(ctx context.Context) (*models.IndexStatus, error) {
	docs, err := p.store.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	records, err := p.store.CountRecords(ctx)
	if err != nil {
		return nil, err
	}
	status := &models.IndexStatus{
		Documents:     docs,
		Records:       records,
		EmbedderModel: p.embedder.Model(),
		Dimensions:    p.embedder.Dimensions(),
		Backend:       p.store.Backend(),
	}
	if snap := p.snapshot.Load(); snap != nil {
		status.SnapshotSize = snap.Size()
	}
	if state, err := p.store.State(ctx); err == nil && state != nil {
		status.Fingerprint = state.Fingerprint
	}
	if usage, err := storage.DiskUsageBytes(p.store.Paths()...); err == nil {
		status.DiskUsageBytes = usage
	}
	return status, nil
}

// Documents lists the ingested documents.
func (p *Pipeline) Documents(ctx context.Context) ([]*models.Document, error) {
	return p.store.ListDocuments(ctx)
}
