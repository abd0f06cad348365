package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/vector"
	"github.com/hyperjump/hondana/pkg/utils"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist. A file that is
// not a readable database is renamed to dbPath.corrupt-<unix> and replaced
// with an empty one.
func OpenSQLite(dbPath string, logger *zap.Logger) (*SQLiteStorage, error) {
	logger = utils.OrNop(logger)
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	s, err := openSQLite(dbPath)
	if err == nil {
		return s, nil
	}
	if _, statErr := os.Stat(dbPath); statErr != nil {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
	if renameErr := os.Rename(dbPath, aside); renameErr != nil {
		return nil, fmt.Errorf("%w (moving aside failed: %v)", err, renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
	logger.Warn("index database unreadable; moved aside",
		zap.String("path", dbPath), zap.String("moved_to", aside), zap.Error(err))
	return openSQLite(dbPath)
}

func openSQLite(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, &errs.IndexCorruptionError{Path: dbPath, Err: fmt.Errorf("enable WAL: %w", err)}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, &errs.IndexCorruptionError{Path: dbPath, Err: fmt.Errorf("initialize schema: %w", err)}
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		title TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		page_count INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		ingested_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embedding_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		chunk_id TEXT NOT NULL UNIQUE,
		document_id TEXT NOT NULL,
		title TEXT NOT NULL,
		page INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		vector BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_document_id ON embedding_records(document_id, chunk_index);

	CREATE TABLE IF NOT EXISTS index_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		fingerprint TEXT NOT NULL,
		embedder_model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		chunk_size INTEGER NOT NULL,
		chunk_overlap INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// State returns the persisted index state.
func (s *SQLiteStorage) State(ctx context.Context) (*models.IndexState, error) {
	var st models.IndexState
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, embedder_model, dimensions, chunk_size, chunk_overlap, updated_at
		 FROM index_state WHERE id = 1`,
	).Scan(&st.Fingerprint, &st.EmbedderModel, &st.Dimensions, &st.ChunkSize, &st.ChunkOverlap, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.corrupt(err)
	}
	return &st, nil
}

// ListDocuments returns all documents ordered by title.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, title, content_hash, page_count, size_bytes, chunk_count, ingested_at
		 FROM documents ORDER BY title, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.Path, &doc.Title, &doc.ContentHash, &doc.PageCount,
			&doc.SizeBytes, &doc.ChunkCount, &doc.IngestedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// LoadRecords returns all embedding records in insertion order.
func (s *SQLiteStorage) LoadRecords(ctx context.Context) ([]models.EmbeddingRecord, error) {
	st, err := s.State(ctx)
	if err != nil {
		return nil, err
	}
	dims := 0
	if st != nil {
		dims = st.Dimensions
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, chunk_id, document_id, title, page, chunk_index, content, vector
		 FROM embedding_records ORDER BY seq`,
	)
	if err != nil {
		return nil, s.corrupt(err)
	}
	defer rows.Close()

	var records []models.EmbeddingRecord
	for rows.Next() {
		var r models.EmbeddingRecord
		var blob []byte
		if err := rows.Scan(&r.Seq, &r.ChunkID, &r.DocumentID, &r.Title, &r.Page, &r.ChunkIndex, &r.Text, &blob); err != nil {
			return nil, s.corrupt(err)
		}
		if r.Vector, err = vector.Decode(blob, dims); err != nil {
			return nil, s.corrupt(fmt.Errorf("record %s: %w", r.ChunkID, err))
		}
		if dims == 0 {
			dims = len(r.Vector)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.corrupt(err)
	}
	return records, nil
}

// Commit applies cs in a single transaction.
func (s *SQLiteStorage) Commit(ctx context.Context, cs *Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cs.Reset {
		if err := resetTx(ctx, tx); err != nil {
			return err
		}
	}
	for _, id := range cs.DeleteDocuments {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embedding_records WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("delete records of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
	}

	for _, doc := range cs.Documents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, path, title, content_hash, page_count, size_bytes, chunk_count, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET path = excluded.path, title = excluded.title,
			   content_hash = excluded.content_hash, page_count = excluded.page_count,
			   size_bytes = excluded.size_bytes, chunk_count = excluded.chunk_count,
			   ingested_at = excluded.ingested_at`,
			doc.ID, doc.Path, doc.Title, doc.ContentHash, doc.PageCount, doc.SizeBytes, doc.ChunkCount, doc.IngestedAt,
		); err != nil {
			return fmt.Errorf("write document %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embedding_records WHERE document_id = ? AND chunk_index >= ?`, doc.ID, doc.ChunkCount,
		); err != nil {
			return fmt.Errorf("trim records of %s: %w", doc.ID, err)
		}
	}

	if len(cs.Records) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO embedding_records (chunk_id, document_id, title, page, chunk_index, content, vector)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(chunk_id) DO UPDATE SET document_id = excluded.document_id, title = excluded.title,
			   page = excluded.page, chunk_index = excluded.chunk_index, content = excluded.content,
			   vector = excluded.vector`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range cs.Records {
			if _, err := stmt.ExecContext(ctx, r.ChunkID, r.DocumentID, r.Title, r.Page, r.ChunkIndex, r.Text,
				vector.Encode(r.Vector)); err != nil {
				return fmt.Errorf("write record %s: %w", r.ChunkID, err)
			}
		}
	}

	if st := cs.State; st != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_state (id, fingerprint, embedder_model, dimensions, chunk_size, chunk_overlap, updated_at)
			 VALUES (1, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET fingerprint = excluded.fingerprint,
			   embedder_model = excluded.embedder_model, dimensions = excluded.dimensions,
			   chunk_size = excluded.chunk_size, chunk_overlap = excluded.chunk_overlap,
			   updated_at = excluded.updated_at`,
			st.Fingerprint, st.EmbedderModel, st.Dimensions, st.ChunkSize, st.ChunkOverlap, st.UpdatedAt,
		); err != nil {
			return fmt.Errorf("write index state: %w", err)
		}
	}
	return tx.Commit()
}

// Reset removes everything.
func (s *SQLiteStorage) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := resetTx(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func resetTx(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"embedding_records", "documents", "index_state"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountRecords returns the total number of embedding records.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_records`).Scan(&count)
	return count, err
}

// Backend returns "sqlite".
func (s *SQLiteStorage) Backend() string { return BackendSQLite }

// Paths returns the database file and its WAL.
func (s *SQLiteStorage) Paths() []string {
	return []string{s.path, s.path + "-wal"}
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) corrupt(err error) error {
	if isContextErr(err) {
		return err
	}
	return &errs.IndexCorruptionError{Path: s.path, Err: err}
}
