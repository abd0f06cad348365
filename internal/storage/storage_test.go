package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
)

func openBackends(t *testing.T) map[string]Storage {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := OpenSQLite(filepath.Join(dir, "index.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	badger, err := OpenBadger(filepath.Join(dir, "badger"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = sqlite.Close()
		_ = badger.Close()
	})
	return map[string]Storage{BackendSQLite: sqlite, BackendBadger: badger}
}

func record(doc string, idx int, v ...float32) models.EmbeddingRecord {
	return models.EmbeddingRecord{
		ChunkID:    fmt.Sprintf("%s#%d", doc, idx),
		DocumentID: doc,
		Title:      "Book " + doc,
		Page:       idx + 1,
		ChunkIndex: idx,
		Text:       "text",
		Vector:     v,
	}
}

func document(id string, chunks int) *models.Document {
	return &models.Document{
		ID:          id,
		Path:        id + ".txt",
		Title:       "Book " + id,
		ContentHash: "h-" + id,
		PageCount:   1,
		ChunkCount:  chunks,
		IngestedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func state(fp string, dims int) *models.IndexState {
	return &models.IndexState{
		Fingerprint:   fp,
		EmbedderModel: "lexical-v1",
		Dimensions:    dims,
		ChunkSize:     200,
		ChunkOverlap:  40,
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestStorage_EmptyStore(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			st, err := store.State(ctx)
			if err != nil || st != nil {
				t.Errorf("State: %+v, %v", st, err)
			}
			recs, err := store.LoadRecords(ctx)
			if err != nil || len(recs) != 0 {
				t.Errorf("LoadRecords: %d, %v", len(recs), err)
			}
			if store.Backend() != name {
				t.Errorf("Backend=%s", store.Backend())
			}
		})
	}
}

func TestStorage_CommitAndLoad(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Commit(ctx, &Changeset{
				Documents: []*models.Document{document("b", 2), document("a", 1)},
				Records:   []models.EmbeddingRecord{record("b", 0, 1, 0), record("b", 1, 0, 1), record("a", 0, 1, 1)},
				State:     state("fp1", 2),
			})
			if err != nil {
				t.Fatal(err)
			}

			st, err := store.State(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Fingerprint != "fp1" || st.Dimensions != 2 || st.ChunkSize != 200 {
				t.Errorf("State=%+v", st)
			}

			recs, err := store.LoadRecords(ctx)
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"b#0", "b#1", "a#0"}
			if len(recs) != len(want) {
				t.Fatalf("got %d records", len(recs))
			}
			for i, id := range want {
				if recs[i].ChunkID != id {
					t.Errorf("record %d = %s, want %s", i, recs[i].ChunkID, id)
				}
			}
			if recs[1].Vector[1] != 1 || recs[1].Page != 2 || recs[1].Title != "Book b" {
				t.Errorf("record not round-tripped: %+v", recs[1])
			}
			if recs[0].Seq >= recs[1].Seq || recs[1].Seq >= recs[2].Seq {
				t.Error("Seq must increase with insertion order")
			}

			docs, err := store.ListDocuments(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(docs) != 2 || docs[0].ID != "a" || docs[1].ChunkCount != 2 {
				t.Errorf("ListDocuments=%+v", docs)
			}
			if n, _ := store.CountRecords(ctx); n != 3 {
				t.Errorf("CountRecords=%d", n)
			}
			if n, _ := store.CountDocuments(ctx); n != 2 {
				t.Errorf("CountDocuments=%d", n)
			}
		})
	}
}

func TestStorage_UpsertKeepsSeqAndTrimsStale(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_ = store.Commit(ctx, &Changeset{
				Documents: []*models.Document{document("a", 3), document("b", 1)},
				Records: []models.EmbeddingRecord{
					record("a", 0, 1, 0), record("a", 1, 1, 0), record("a", 2, 1, 0), record("b", 0, 0, 1),
				},
				State: state("fp1", 2),
			})
			before, _ := store.LoadRecords(ctx)

			// a shrinks to two chunks with new vectors.
			err := store.Commit(ctx, &Changeset{
				Documents: []*models.Document{document("a", 2)},
				Records:   []models.EmbeddingRecord{record("a", 0, 0, 1), record("a", 1, 0, 1)},
				State:     state("fp2", 2),
			})
			if err != nil {
				t.Fatal(err)
			}
			after, err := store.LoadRecords(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(after) != 3 {
				t.Fatalf("expected 3 records, got %d", len(after))
			}
			if after[0].ChunkID != "a#0" || after[0].Seq != before[0].Seq {
				t.Errorf("a#0 should keep Seq %d, got %+v", before[0].Seq, after[0])
			}
			if after[0].Vector[1] != 1 {
				t.Error("vector not replaced")
			}
			if after[2].ChunkID != "b#0" {
				t.Errorf("b#0 should stay last, got %s", after[2].ChunkID)
			}
		})
	}
}

func TestStorage_DeleteAndReset(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_ = store.Commit(ctx, &Changeset{
				Documents: []*models.Document{document("a", 1), document("b", 1)},
				Records:   []models.EmbeddingRecord{record("a", 0, 1, 0), record("b", 0, 0, 1)},
				State:     state("fp1", 2),
			})
			if err := store.Commit(ctx, &Changeset{DeleteDocuments: []string{"a", "missing"}, State: state("fp2", 2)}); err != nil {
				t.Fatal(err)
			}
			recs, _ := store.LoadRecords(ctx)
			if len(recs) != 1 || recs[0].DocumentID != "b" {
				t.Errorf("after delete: %+v", recs)
			}

			err := store.Commit(ctx, &Changeset{
				Reset:     true,
				Documents: []*models.Document{document("c", 1)},
				Records:   []models.EmbeddingRecord{record("c", 0, 1, 1)},
				State:     state("fp3", 2),
			})
			if err != nil {
				t.Fatal(err)
			}
			recs, _ = store.LoadRecords(ctx)
			if len(recs) != 1 || recs[0].DocumentID != "c" {
				t.Errorf("after reset commit: %+v", recs)
			}

			if err := store.Reset(ctx); err != nil {
				t.Fatal(err)
			}
			if st, _ := store.State(ctx); st != nil {
				t.Errorf("state survived reset: %+v", st)
			}
			if n, _ := store.CountDocuments(ctx); n != 0 {
				t.Errorf("documents survived reset: %d", n)
			}
		})
	}
}

func TestStorage_CanceledCommitWritesNothing(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := store.Commit(ctx, &Changeset{
				Documents: []*models.Document{document("a", 1)},
				Records:   []models.EmbeddingRecord{record("a", 0, 1, 0)},
				State:     state("fp1", 2),
			})
			if err == nil {
				t.Fatal("expected error from canceled commit")
			}
			if st, _ := store.State(context.Background()); st != nil {
				t.Errorf("state written by failed commit: %+v", st)
			}
			if n, _ := store.CountRecords(context.Background()); n != 0 {
				t.Errorf("records written by failed commit: %d", n)
			}
		})
	}
}

func TestStorage_DimensionMismatchIsCorruption(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_ = store.Commit(ctx, &Changeset{
				Documents: []*models.Document{document("a", 1)},
				Records:   []models.EmbeddingRecord{record("a", 0, 1, 0)},
				State:     state("fp1", 3),
			})
			_, err := store.LoadRecords(ctx)
			var corrupt *errs.IndexCorruptionError
			if !errors.As(err, &corrupt) {
				t.Errorf("expected IndexCorruptionError, got %v", err)
			}
		})
	}
}

// A textbook shelf produces thousands of chunks, each with several KB of text
// and vector. One commit has to take all of them.
func TestStorage_LargeCommit(t *testing.T) {
	if testing.Short() {
		t.Skip("writes tens of MB")
	}
	const (
		n    = 3000
		dims = 256
	)
	text := strings.Repeat("shell and tube ", 267)[:4000]
	vec := make([]float32, dims)
	vec[0] = 1

	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			cs := &Changeset{Reset: true, State: state("fp-large", dims)}
			for d := 0; d < 3; d++ {
				id := fmt.Sprintf("book%d", d)
				cs.Documents = append(cs.Documents, document(id, n/3))
				for i := 0; i < n/3; i++ {
					r := record(id, i, vec...)
					r.Text = text
					cs.Records = append(cs.Records, r)
				}
			}
			if err := store.Commit(ctx, cs); err != nil {
				t.Fatalf("Commit: %v", err)
			}

			recs, err := store.LoadRecords(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != n {
				t.Fatalf("loaded %d records, want %d", len(recs), n)
			}
			for i, r := range recs {
				if r.ChunkID != cs.Records[i].ChunkID {
					t.Fatalf("record %d is %s, want %s", i, r.ChunkID, cs.Records[i].ChunkID)
				}
			}
			if st, _ := store.State(ctx); st == nil || st.Fingerprint != "fp-large" {
				t.Errorf("state = %+v", st)
			}

			// Replacing the whole shelf again goes through the same path.
			cs.State = state("fp-large-2", dims)
			if err := store.Commit(ctx, cs); err != nil {
				t.Fatalf("second Commit: %v", err)
			}
			if c, _ := store.CountRecords(ctx); c != n {
				t.Errorf("CountRecords = %d, want %d", c, n)
			}
			if err := store.Reset(ctx); err != nil {
				t.Fatal(err)
			}
			if c, _ := store.CountRecords(ctx); c != 0 {
				t.Errorf("CountRecords after reset = %d", c)
			}
		})
	}
}
