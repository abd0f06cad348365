package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/vector"
	"github.com/hyperjump/hondana/pkg/utils"
)

// Stored types. badgerhold keys each value by its type name, so these names
// are part of the on-disk layout.
type (
	documentRow models.Document

	recordRow struct {
		ChunkID    string
		DocumentID string
		Title      string
		Page       int
		ChunkIndex int
		Text       string
		Vector     []byte
		Seq        int64
	}

	stateRow models.IndexState

	seqRow struct {
		Next int64
	}

	// stagedRow is a record written by a commit that has not been published yet.
	stagedRow struct {
		Commit string
		Pos    int
		Record recordRow
	}

	// pendingRow marks a commit whose records are all staged. Its presence
	// means the commit happened and must be carried to the end.
	pendingRow struct {
		ID              string
		Phase           commitPhase
		Reset           bool
		DeleteDocuments []string
		Documents       []models.Document
		State           *models.IndexState
	}
)

type commitPhase int

const (
	// phasePrepare: reset, document deletes and document rows.
	phasePrepare commitPhase = iota
	// phaseRecords: prepare is done; staged records are being published.
	phaseRecords
)

const (
	stateKey   = "state"
	seqKey     = "seq"
	pendingKey = "pending"

	// badgerWriteBatch bounds the rows written per transaction. A record
	// carries its chunk text and vector, and badger rejects transactions past
	// a fraction of the memtable size.
	badgerWriteBatch = 256
)

// BadgerStorage implements Storage on a badgerhold store. Commits are staged
// across several transactions and published through a commit marker.
type BadgerStorage struct {
	store  *badgerhold.Store
	dir    string
	logger *zap.Logger

	// mu serializes commits, resets and recovery.
	mu sync.Mutex
}

// OpenBadger opens or creates a badger store in dir.
func OpenBadger(dir string, logger *zap.Logger) (*BadgerStorage, error) {
	logger = utils.OrNop(logger)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, &errs.IndexCorruptionError{Path: dir, Err: fmt.Errorf("open badger: %w", err)}
	}
	logger.Debug("badger store opened", zap.String("path", dir))
	s := &BadgerStorage{store: store, dir: dir, logger: logger}
	if err := s.recoverLocked(); err != nil {
		_ = store.Close()
		return nil, &errs.IndexCorruptionError{Path: dir, Err: err}
	}
	return s, nil
}

// State returns the persisted index state.
func (s *BadgerStorage) State(ctx context.Context) (*models.IndexState, error) {
	if err := s.settle(); err != nil {
		return nil, err
	}
	var row stateRow
	if err := s.store.Get(stateKey, &row); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, s.corrupt(err)
	}
	st := models.IndexState(row)
	return &st, nil
}

// ListDocuments returns all documents ordered by title.
func (s *BadgerStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	if err := s.settle(); err != nil {
		return nil, err
	}
	var rows []documentRow
	if err := s.store.Find(&rows, badgerhold.Where("ID").Ne("").SortBy("Title", "ID")); err != nil {
		return nil, err
	}
	docs := make([]*models.Document, len(rows))
	for i := range rows {
		doc := models.Document(rows[i])
		docs[i] = &doc
	}
	return docs, nil
}

// LoadRecords returns all embedding records in insertion order.
func (s *BadgerStorage) LoadRecords(ctx context.Context) ([]models.EmbeddingRecord, error) {
	st, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	dims := 0
	if st != nil {
		dims = st.Dimensions
	}

	var rows []recordRow
	if err := s.store.Find(&rows, badgerhold.Where("ChunkID").Ne("").SortBy("Seq")); err != nil {
		return nil, s.corrupt(err)
	}
	records := make([]models.EmbeddingRecord, 0, len(rows))
	for _, row := range rows {
		v, err := vector.Decode(row.Vector, dims)
		if err != nil {
			return nil, s.corrupt(fmt.Errorf("record %s: %w", row.ChunkID, err))
		}
		if dims == 0 {
			dims = len(v)
		}
		records = append(records, models.EmbeddingRecord{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Title:      row.Title,
			Page:       row.Page,
			ChunkIndex: row.ChunkIndex,
			Text:       row.Text,
			Vector:     v,
			Seq:        row.Seq,
		})
	}
	return records, nil
}

// Commit applies cs. Records are first staged under a fresh commit ID in
// transactions of at most badgerWriteBatch rows, so a changeset of any size
// fits badger's per-transaction limit. Writing the commit marker is the commit
// point: before it nothing is visible, after it the changeset is applied and an
// interrupted apply is finished by the next OpenBadger, Commit or read.
func (s *BadgerStorage) Commit(ctx context.Context, cs *Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recoverLocked(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	id := uuid.NewString()
	abort := func(err error) error {
		if cerr := s.dropStaged(id); cerr != nil {
			s.logger.Warn("failed to drop staged records", zap.String("commit", id), zap.Error(cerr))
		}
		return err
	}
	if err := s.stage(ctx, id, cs.Records); err != nil {
		return abort(err)
	}
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	p := &pendingRow{
		ID:              id,
		Phase:           phasePrepare,
		Reset:           cs.Reset,
		DeleteDocuments: cs.DeleteDocuments,
		State:           cs.State,
	}
	for _, doc := range cs.Documents {
		p.Documents = append(p.Documents, *doc)
	}
	if err := s.store.Upsert(pendingKey, p); err != nil {
		return abort(fmt.Errorf("write commit marker: %w", err))
	}
	return s.apply(p)
}

// stage writes records as stagedRows of commit id.
func (s *BadgerStorage) stage(ctx context.Context, id string, records []models.EmbeddingRecord) error {
	for start := 0; start < len(records); start += badgerWriteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+badgerWriteBatch, len(records))
		err := s.store.Badger().Update(func(tx *badger.Txn) error {
			for i := start; i < end; i++ {
				row := stagedRow{Commit: id, Pos: i, Record: toRecordRow(records[i])}
				if err := s.store.TxUpsert(tx, stagedKey(id, i), &row); err != nil {
					return fmt.Errorf("stage record %s: %w", records[i].ChunkID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// apply carries out a marked commit. Every step is idempotent, and Phase
// records when the destructive prepare steps are done, so apply can be rerun
// after an interruption at any point.
func (s *BadgerStorage) apply(p *pendingRow) error {
	if p.Phase == phasePrepare {
		if p.Reset {
			if err := s.clear(); err != nil {
				return err
			}
		}
		for _, id := range p.DeleteDocuments {
			if err := deleteInBatches(s, recordsOf(id), recordKey); err != nil {
				return fmt.Errorf("delete records of %s: %w", id, err)
			}
			if err := ignoreNotFound(s.store.Delete(id, &documentRow{})); err != nil {
				return fmt.Errorf("delete document %s: %w", id, err)
			}
		}
		for i := range p.Documents {
			doc := p.Documents[i]
			if err := s.store.Upsert(doc.ID, (*documentRow)(&doc)); err != nil {
				return fmt.Errorf("write document %s: %w", doc.ID, err)
			}
			stale := func() *badgerhold.Query {
				return badgerhold.Where("DocumentID").Eq(doc.ID).And("ChunkIndex").Ge(doc.ChunkCount)
			}
			if err := deleteInBatches(s, stale, recordKey); err != nil {
				return fmt.Errorf("trim records of %s: %w", doc.ID, err)
			}
		}
		p.Phase = phaseRecords
		if err := s.store.Upsert(pendingKey, p); err != nil {
			return fmt.Errorf("update commit marker: %w", err)
		}
	}

	for {
		n, err := s.moveStaged(p.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}

	return s.store.Badger().Update(func(tx *badger.Txn) error {
		if p.State != nil {
			if err := s.store.TxUpsert(tx, stateKey, (*stateRow)(p.State)); err != nil {
				return fmt.Errorf("write index state: %w", err)
			}
		}
		return s.store.TxDelete(tx, pendingKey, &pendingRow{})
	})
}

// moveStaged publishes up to badgerWriteBatch staged records of commit id in
// one transaction and returns how many it moved. A record replacing an
// existing chunk keeps its Seq; new ones are numbered in staging order.
func (s *BadgerStorage) moveStaged(id string) (int, error) {
	moved := 0
	err := s.store.Badger().Update(func(tx *badger.Txn) error {
		var staged []stagedRow
		if err := s.store.TxFind(tx, &staged, stagedOf(id)().Limit(badgerWriteBatch)); err != nil {
			return err
		}
		if len(staged) == 0 {
			return nil
		}
		sort.Slice(staged, func(i, j int) bool { return staged[i].Pos < staged[j].Pos })

		var seq seqRow
		if err := ignoreNotFound(s.store.TxGet(tx, seqKey, &seq)); err != nil {
			return err
		}
		for i := range staged {
			row := staged[i].Record
			var existing recordRow
			switch err := s.store.TxGet(tx, row.ChunkID, &existing); {
			case err == nil:
				row.Seq = existing.Seq
			case errors.Is(err, badgerhold.ErrNotFound):
				seq.Next++
				row.Seq = seq.Next
			default:
				return err
			}
			if err := s.store.TxUpsert(tx, row.ChunkID, &row); err != nil {
				return fmt.Errorf("write record %s: %w", row.ChunkID, err)
			}
			if err := s.store.TxDelete(tx, stagedKey(id, staged[i].Pos), &stagedRow{}); err != nil {
				return err
			}
		}
		moved = len(staged)
		return s.store.TxUpsert(tx, seqKey, &seq)
	})
	return moved, err
}

// Reset removes everything, including unfinished commits. The state row goes
// first so an interrupted reset reads as an empty, incompatible store.
func (s *BadgerStorage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ignoreNotFound(s.store.Delete(stateKey, &stateRow{})); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	if err := ignoreNotFound(s.store.Delete(pendingKey, &pendingRow{})); err != nil {
		return fmt.Errorf("reset commit marker: %w", err)
	}
	if err := deleteInBatches(s, anyStaged, stagedRowKey); err != nil {
		return fmt.Errorf("reset staged records: %w", err)
	}
	return s.clear()
}

// clear deletes the state, then every record and document.
func (s *BadgerStorage) clear() error {
	if err := ignoreNotFound(s.store.Delete(stateKey, &stateRow{})); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	if err := deleteInBatches(s, allRecords, recordKey); err != nil {
		return fmt.Errorf("reset records: %w", err)
	}
	if err := deleteInBatches(s, allDocuments, documentKey); err != nil {
		return fmt.Errorf("reset documents: %w", err)
	}
	return nil
}

// settle finishes a marked commit before a read, so readers never see a
// partly applied one. Without a marker it takes no lock.
func (s *BadgerStorage) settle() error {
	var p pendingRow
	if err := s.store.Get(pendingKey, &p); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked()
}

// recoverLocked finishes a marked commit and drops records staged by commits
// that never reached their marker.
func (s *BadgerStorage) recoverLocked() error {
	if err := s.finishLocked(); err != nil {
		return err
	}
	if err := deleteInBatches(s, anyStaged, stagedRowKey); err != nil {
		return fmt.Errorf("drop abandoned staged records: %w", err)
	}
	return nil
}

func (s *BadgerStorage) finishLocked() error {
	var p pendingRow
	if err := s.store.Get(pendingKey, &p); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read commit marker: %w", err)
	}
	s.logger.Warn("finishing interrupted index commit", zap.String("commit", p.ID))
	if err := s.apply(&p); err != nil {
		return fmt.Errorf("finish commit %s: %w", p.ID, err)
	}
	return nil
}

func (s *BadgerStorage) dropStaged(id string) error {
	return deleteInBatches(s, stagedOf(id), stagedRowKey)
}

// deleteInBatches deletes every T matching where(), badgerWriteBatch rows per
// transaction. where is called once per batch since a Query holds its limit.
func deleteInBatches[T any](s *BadgerStorage, where func() *badgerhold.Query, key func(*T) string) error {
	for {
		n := 0
		err := s.store.Badger().Update(func(tx *badger.Txn) error {
			var rows []T
			if err := s.store.TxFind(tx, &rows, where().Limit(badgerWriteBatch)); err != nil {
				return err
			}
			n = len(rows)
			for i := range rows {
				if err := ignoreNotFound(s.store.TxDelete(tx, key(&rows[i]), new(T))); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil || n == 0 {
			return err
		}
	}
}

func allRecords() *badgerhold.Query   { return badgerhold.Where("ChunkID").Ne("") }
func allDocuments() *badgerhold.Query { return badgerhold.Where("ID").Ne("") }
func anyStaged() *badgerhold.Query    { return badgerhold.Where("Commit").Ne("") }

func recordsOf(docID string) func() *badgerhold.Query {
	return func() *badgerhold.Query { return badgerhold.Where("DocumentID").Eq(docID) }
}

func stagedOf(id string) func() *badgerhold.Query {
	return func() *badgerhold.Query { return badgerhold.Where("Commit").Eq(id) }
}

func recordKey(r *recordRow) string     { return r.ChunkID }
func documentKey(d *documentRow) string { return d.ID }
func stagedRowKey(r *stagedRow) string  { return stagedKey(r.Commit, r.Pos) }

// stagedKey is fixed width for a given commit, so staged rows iterate in Pos order.
func stagedKey(id string, pos int) string { return fmt.Sprintf("%s/%09d", id, pos) }

func toRecordRow(r models.EmbeddingRecord) recordRow {
	return recordRow{
		ChunkID:    r.ChunkID,
		DocumentID: r.DocumentID,
		Title:      r.Title,
		Page:       r.Page,
		ChunkIndex: r.ChunkIndex,
		Text:       r.Text,
		Vector:     vector.Encode(r.Vector),
	}
}

// CountDocuments returns the total number of documents.
func (s *BadgerStorage) CountDocuments(ctx context.Context) (int64, error) {
	if err := s.settle(); err != nil {
		return 0, err
	}
	n, err := s.store.Count(&documentRow{}, badgerhold.Where("ID").Ne(""))
	return int64(n), err
}

// CountRecords returns the total number of embedding records.
func (s *BadgerStorage) CountRecords(ctx context.Context) (int64, error) {
	if err := s.settle(); err != nil {
		return 0, err
	}
	n, err := s.store.Count(&recordRow{}, badgerhold.Where("ChunkID").Ne(""))
	return int64(n), err
}

// Backend returns "badger".
func (s *BadgerStorage) Backend() string { return BackendBadger }

// Paths returns the badger directory.
func (s *BadgerStorage) Paths() []string { return []string{s.dir} }

// Close closes the store.
func (s *BadgerStorage) Close() error {
	return s.store.Close()
}

func (s *BadgerStorage) corrupt(err error) error {
	if isContextErr(err) {
		return err
	}
	return &errs.IndexCorruptionError{Path: s.dir, Err: err}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil
	}
	return err
}
