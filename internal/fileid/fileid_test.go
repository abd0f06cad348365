package fileid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDocID(t *testing.T) {
	id1 := DocID("books/heat.pdf")
	id2 := DocID("books/heat.pdf")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, prefix) {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
	if DocID("books/heat.pdf") == DocID("books/mass.pdf") {
		t.Error("different paths should give different IDs")
	}
}

func TestDocID_normalized(t *testing.T) {
	id1 := DocID("books/heat.pdf")
	id2 := DocID("books/./heat.pdf")
	id3 := DocID("books//heat.pdf")
	if id1 != id2 || id1 != id3 {
		t.Errorf("paths should normalize: %q %q %q", id1, id2, id3)
	}
}

func TestContentHash(t *testing.T) {
	if ContentHash([]byte("a")) != ContentHash([]byte("a")) {
		t.Error("hash should be deterministic")
	}
	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Error("different content should hash differently")
	}
	if len(ContentHash(nil)) != 64 {
		t.Errorf("expected hex sha256, got %q", ContentHash(nil))
	}
}

func TestFingerprint(t *testing.T) {
	a := map[string]string{"file:1": "aa", "file:2": "bb"}
	b := map[string]string{"file:2": "bb", "file:1": "aa"}
	if Fingerprint("k", a) != Fingerprint("k", b) {
		t.Error("fingerprint should not depend on map order")
	}
	if Fingerprint("k", a) == Fingerprint("k2", a) {
		t.Error("settings key should change the fingerprint")
	}
	changed := map[string]string{"file:1": "aa", "file:2": "cc"}
	if Fingerprint("k", a) == Fingerprint("k", changed) {
		t.Error("content hash change should change the fingerprint")
	}
	if Fingerprint("k", nil) == "" {
		t.Error("empty corpus still has a fingerprint")
	}
}

func TestTitle(t *testing.T) {
	tests := []struct{ path, want string }{
		{"Heat Exchangers 101.pdf", "Heat Exchangers 101"},
		{"/shelf/unit-ops/Distillation.txt", "Distillation"},
		{"README", "README"},
	}
	for _, tt := range tests {
		if got := Title(tt.path); got != tt.want {
			t.Errorf("Title(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.txt")
	content := []byte("shell and tube")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != ContentHash(content) {
		t.Errorf("HashFile=%s, ContentHash=%s", got, ContentHash(content))
	}
	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
