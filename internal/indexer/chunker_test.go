package indexer

import (
	"strings"
	"testing"

	"github.com/hyperjump/hondana/internal/models"
)

// reassemble concatenates chunk texts dropping the overlap each chunk shares
// with its predecessor.
func reassemble(t *testing.T, chunks []models.Chunk) string {
	t.Helper()
	var b strings.Builder
	prevEnd := 0
	for i, ch := range chunks {
		if i > 0 && ch.Start > prevEnd {
			t.Fatalf("gap between chunk %d (end %d) and chunk %d (start %d)", i-1, prevEnd, i, ch.Start)
		}
		r := []rune(ch.Text)
		if len(r) != ch.End-ch.Start {
			t.Fatalf("chunk %d text length %d does not match span [%d,%d)", i, len(r), ch.Start, ch.End)
		}
		skip := 0
		if i > 0 {
			skip = prevEnd - ch.Start
		}
		b.WriteString(string(r[skip:]))
		prevEnd = ch.End
	}
	return b.String()
}

func TestChunker_ReassemblyReproducesText(t *testing.T) {
	pages := []models.Page{
		{Number: 1, Text: strings.Repeat("Fouling resistance grows with time. ", 9)},
		{Number: 2, Text: "Überhitzter Dampf – 蒸気 – steam tables."},
		{Number: 3, Text: strings.Repeat("LMTD correction factor F. ", 13)},
	}
	want := string(NewLayout(pages).Text)
	tests := []struct{ size, overlap int }{
		{50, 10}, {64, 0}, {100, 99}, {7, 3}, {1000, 200},
	}
	for _, tt := range tests {
		c := NewChunker(tt.size, tt.overlap)
		chunks := c.Chunk("doc", pages)
		if got := reassemble(t, chunks); got != want {
			t.Errorf("size=%d overlap=%d: reassembled text differs\n got %q\nwant %q", tt.size, tt.overlap, got, want)
		}
		for i := 1; i < len(chunks); i++ {
			if overlap := chunks[i-1].End - chunks[i].Start; overlap != tt.overlap && chunks[i-1].End != len([]rune(want)) {
				t.Errorf("size=%d: chunk %d overlaps previous by %d", tt.size, i, overlap)
			}
		}
	}
}

func TestChunker_ShortDocumentIsOneChunk(t *testing.T) {
	c := NewChunker(4000, 800)
	chunks := c.Chunk("d", []models.Page{{Number: 1, Text: "A short preface."}})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	ch := chunks[0]
	if ch.Text != "A short preface." || ch.Start != 0 || ch.End != 16 || ch.Page != 1 {
		t.Errorf("unexpected chunk %+v", ch)
	}
}

func TestChunker_EmptyDocumentYieldsNothing(t *testing.T) {
	c := NewChunker(5, 1)
	if chunks := c.Chunk("d", []models.Page{{Number: 1, Text: "   "}, {Number: 2}}); len(chunks) != 0 {
		t.Errorf("whitespace document should yield no chunks, got %v", chunks)
	}
	if chunks := c.Chunk("d", nil); len(chunks) != 0 {
		t.Errorf("no pages should yield no chunks, got %v", chunks)
	}
}

func TestChunker_PageOfStartingOffset(t *testing.T) {
	// page 1 occupies [0,10), separator at 10, page 2 [11,21), separator 21, page 3 [22,32)
	pages := []models.Page{
		{Number: 1, Text: "aaaaaaaaaa"},
		{Number: 2, Text: "bbbbbbbbbb"},
		{Number: 3, Text: "cccccccccc"},
	}
	c := NewChunker(8, 2)
	for _, ch := range c.Chunk("d", pages) {
		want := 1
		switch {
		case ch.Start >= 22:
			want = 3
		case ch.Start >= 11:
			want = 2
		}
		if ch.Page != want {
			t.Errorf("chunk %d starting at %d attributed to page %d, want %d", ch.Index, ch.Start, ch.Page, want)
		}
	}
}

func TestChunker_IDsAndIndexes(t *testing.T) {
	c := NewChunker(10, 2)
	chunks := c.Chunk("file:abc", []models.Page{{Number: 1, Text: strings.Repeat("x", 35)}})
	for i, ch := range chunks {
		if ch.Index != i || ch.DocumentID != "file:abc" {
			t.Errorf("chunk %d: %+v", i, ch)
		}
		if ch.ID != ChunkID("file:abc", i) {
			t.Errorf("chunk %d ID %q", i, ch.ID)
		}
	}
	again := c.Chunk("file:abc", []models.Page{{Number: 1, Text: strings.Repeat("x", 35)}})
	if len(again) != len(chunks) || again[len(again)-1].ID != chunks[len(chunks)-1].ID {
		t.Error("chunk IDs should be deterministic")
	}
}

func TestChunker_SequenceIsRestartableAndStoppable(t *testing.T) {
	c := NewChunker(10, 0)
	seq := c.Chunks("d", []models.Page{{Number: 1, Text: strings.Repeat("y", 100)}})
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	if first != 10 || second != 10 {
		t.Errorf("expected 10 chunks on each pass, got %d and %d", first, second)
	}
	taken := 0
	for range seq {
		taken++
		if taken == 3 {
			break
		}
	}
	if taken != 3 {
		t.Errorf("early break: took %d", taken)
	}
}

func TestNewChunker_InvalidOverlap(t *testing.T) {
	c := NewChunker(100, 100)
	if c.Overlap() != 25 {
		t.Errorf("overlap >= size should fall back to size/4, got %d", c.Overlap())
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  a  b  ", "a b"},
		{"line one\r\nline two", "line one\nline two"},
		{"para\n\n\n\n\nnext", "para\n\nnext"},
		{"tab\t\tseparated \n value", "tab separated\nvalue"},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
