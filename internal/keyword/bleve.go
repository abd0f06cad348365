package keyword

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/hondana/internal/models"
)

// TitleIndex is an in-memory Bleve index over document titles. It is rebuilt
// from the store after every ingestion.
type TitleIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	titles map[string]string // document ID -> title
	exact  map[string]string // normalized title -> document ID
}

type titleDoc struct {
	Title string `json:"title"`
}

// NewTitleIndex creates an empty title index.
func NewTitleIndex() (*TitleIndex, error) {
	index, err := newMemIndex()
	if err != nil {
		return nil, err
	}
	return &TitleIndex{index: index, titles: map[string]string{}, exact: map[string]string{}}, nil
}

func newMemIndex() (bleve.Index, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	titleField := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so fuzzy
	// terms are compared against whole words.
	titleField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", titleField)
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return index, nil
}

// Replace swaps the indexed set for docs.
func (t *TitleIndex) Replace(docs []*models.Document) error {
	index, err := newMemIndex()
	if err != nil {
		return err
	}
	batch := index.NewBatch()
	titles := make(map[string]string, len(docs))
	exact := make(map[string]string, len(docs))
	for _, doc := range docs {
		if err := batch.Index(doc.ID, titleDoc{Title: normalizeTitle(doc.Title)}); err != nil {
			_ = index.Close()
			return fmt.Errorf("index title %q: %w", doc.Title, err)
		}
		titles[doc.ID] = doc.Title
		exact[normalizeTitle(doc.Title)] = doc.ID
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return fmt.Errorf("index titles: %w", err)
	}

	t.mu.Lock()
	old := t.index
	t.index, t.titles, t.exact = index, titles, exact
	t.mu.Unlock()
	return old.Close()
}

// Resolve finds the document a book name refers to. An exact title (ignoring
// case and separators) wins; otherwise the best fuzzy Bleve hit; otherwise
// the title within a few edits of the name.
func (t *TitleIndex) Resolve(ctx context.Context, book string) (Match, bool, error) {
	name := normalizeTitle(book)
	if name == "" {
		return Match{}, false, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id, ok := t.exact[name]; ok {
		return Match{DocumentID: id, Title: t.titles[id]}, true, nil
	}

	req := bleve.NewSearchRequest(fuzzyQuery(name, 1))
	req.Size = 1
	res, err := t.index.SearchInContext(ctx, req)
	if err != nil {
		return Match{}, false, fmt.Errorf("Bleve search failed: %w", err)
	}
	if len(res.Hits) > 0 {
		id := res.Hits[0].ID
		return Match{DocumentID: id, Title: t.titles[id]}, true, nil
	}

	best, bestDist := "", maxTitleDistance(name)+1
	for id, title := range t.titles {
		d := LevenshteinDistance(name, normalizeTitle(title))
		if d < bestDist || (d == bestDist && id < best) {
			best, bestDist = id, d
		}
	}
	if best == "" {
		return Match{}, false, nil
	}
	return Match{DocumentID: best, Title: t.titles[best]}, true, nil
}

// fuzzyQuery requires every term of name to appear in the title, within
// fuzziness edits.
func fuzzyQuery(name string, fuzziness int) blevequery.Query {
	terms := strings.Fields(name)
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("title")
		queries = append(queries, fq)
	}
	return bleve.NewConjunctionQuery(queries...)
}

// Len returns the number of indexed titles.
func (t *TitleIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.titles)
}

// Close releases the index.
func (t *TitleIndex) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.index.Close()
}
