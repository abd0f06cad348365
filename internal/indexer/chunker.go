package indexer

import (
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/hyperjump/hondana/internal/models"
)

// pageSeparator joins page texts into one document text.
const pageSeparator = "\n"

// Chunker splits a document into overlapping fixed-size character windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap, in characters.
// An overlap not smaller than size falls back to a quarter of size.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 4000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Size returns the chunk size in characters.
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap returns the overlap in characters.
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Layout is a document's assembled text and where each page starts in it.
type Layout struct {
	Text       []rune
	PageStarts []int
	PageNums   []int
}

// NewLayout joins pages with a newline and records rune offsets of each page.
func NewLayout(pages []models.Page) *Layout {
	l := &Layout{
		PageStarts: make([]int, 0, len(pages)),
		PageNums:   make([]int, 0, len(pages)),
	}
	for i, p := range pages {
		if i > 0 {
			l.Text = append(l.Text, []rune(pageSeparator)...)
		}
		l.PageStarts = append(l.PageStarts, len(l.Text))
		l.PageNums = append(l.PageNums, p.Number)
		l.Text = append(l.Text, []rune(p.Text)...)
	}
	return l
}

// PageAt returns the page number containing rune offset off.
func (l *Layout) PageAt(off int) int {
	if len(l.PageStarts) == 0 {
		return 1
	}
	i := sort.Search(len(l.PageStarts), func(i int) bool { return l.PageStarts[i] > off }) - 1
	if i < 0 {
		i = 0
	}
	return l.PageNums[i]
}

// Chunks returns the chunks of a document as a lazy sequence. Ranging over it
// again restarts from the first chunk. Each chunk is attributed to the page
// holding its first character. A document with no visible text yields nothing;
// one shorter than the chunk size yields a single chunk.
func (c *Chunker) Chunks(docID string, pages []models.Page) iter.Seq[models.Chunk] {
	layout := NewLayout(pages)
	return func(yield func(models.Chunk) bool) {
		text := layout.Text
		if strings.TrimSpace(string(text)) == "" {
			return
		}
		step := c.chunkSize - c.chunkOverlap
		for index, start := 0, 0; ; index, start = index+1, start+step {
			end := min(start+c.chunkSize, len(text))
			chunk := models.Chunk{
				ID:         ChunkID(docID, index),
				DocumentID: docID,
				Index:      index,
				Text:       string(text[start:end]),
				Page:       layout.PageAt(start),
				Start:      start,
				End:        end,
			}
			if !yield(chunk) || end == len(text) {
				return
			}
		}
	}
}

// Chunk collects Chunks into a slice.
func (c *Chunker) Chunk(docID string, pages []models.Page) []models.Chunk {
	var out []models.Chunk
	for ch := range c.Chunks(docID, pages) {
		out = append(out, ch)
	}
	return out
}

// ChunkID is deterministic so that re-ingesting a document replaces its chunks.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%d", docID, index)
}
