// Package storage persists the embedding index: documents, embedding records
// and the index state, committed together.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/hondana/internal/models"
)

// Backend names accepted by storage.backend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Storage defines index persistence.
type Storage interface {
	// State returns the persisted index state, or nil if nothing was committed yet.
	State(ctx context.Context) (*models.IndexState, error)
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	// LoadRecords returns every record in Seq order. Unreadable data yields
	// an *errs.IndexCorruptionError.
	LoadRecords(ctx context.Context) ([]models.EmbeddingRecord, error)
	// Commit applies a changeset atomically: either all of it or none.
	Commit(ctx context.Context, cs *Changeset) error
	// Reset removes all documents, records and state.
	Reset(ctx context.Context) error

	CountDocuments(ctx context.Context) (int64, error)
	CountRecords(ctx context.Context) (int64, error)

	// Backend returns the backend name.
	Backend() string
	// Paths lists the files or directories holding the data.
	Paths() []string
	Close() error
}

// Changeset is one ingestion's worth of changes, applied in this order:
// reset, document deletes, document rows, record upserts, state.
//
// Writing a document also drops its records with ChunkIndex >= ChunkCount,
// so a shrunken document leaves no stale chunks behind. Records whose chunk
// ID already exists keep their Seq.
type Changeset struct {
	Reset           bool
	DeleteDocuments []string
	Documents       []*models.Document
	Records         []models.EmbeddingRecord
	State           *models.IndexState
}

// Empty reports whether the changeset writes nothing.
func (c *Changeset) Empty() bool {
	return !c.Reset && len(c.DeleteDocuments) == 0 && len(c.Documents) == 0 &&
		len(c.Records) == 0 && c.State == nil
}

// isContextErr reports whether err is a cancellation or deadline rather than
// a problem with the stored data.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
