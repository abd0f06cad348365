package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
)

func TestOpenSQLite_MovesUnreadableFileAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	garbage := strings.Repeat("this is not a sqlite database ", 200)
	if err := os.WriteFile(path, []byte(garbage), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenSQLite should recover: %v", err)
	}
	defer store.Close()

	st, err := store.State(context.Background())
	if err != nil || st != nil {
		t.Errorf("recovered store should be empty: %+v, %v", st, err)
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Errorf("expected the unreadable file to be moved aside, found %v", matches)
	}
}

func TestOpenSQLite_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "index.db")
	store, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	usage, err := DiskUsageBytes(store.Paths()...)
	if err != nil || usage <= 0 {
		t.Errorf("DiskUsageBytes=%d, %v", usage, err)
	}
}

func TestSQLiteStorage_CanceledReadIsNotCorruption(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Commit(context.Background(), &Changeset{
		Documents: []*models.Document{document("a", 1)},
		Records:   []models.EmbeddingRecord{record("a", 0, 1, 0)},
		State:     state("fp1", 2),
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var corrupt *errs.IndexCorruptionError
	if _, err := store.State(ctx); !errors.Is(err, context.Canceled) || errors.As(err, &corrupt) {
		t.Errorf("State with canceled ctx: %v", err)
	}
	if _, err := store.LoadRecords(ctx); !errors.Is(err, context.Canceled) || errors.As(err, &corrupt) {
		t.Errorf("LoadRecords with canceled ctx: %v", err)
	}

	recs, err := store.LoadRecords(context.Background())
	if err != nil || len(recs) != 1 {
		t.Errorf("data should be intact: %d records, %v", len(recs), err)
	}
}
