package vector

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/pkg/utils"
)

// MemoryIndex is a brute-force cosine index over embedding records. Records
// keep the order they were first added in; upserting an existing chunk ID
// replaces it in place, so equal scores always resolve the same way.
type MemoryIndex struct {
	dimensions int
	records    []models.EmbeddingRecord
	positions  map[string]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		records:    make([]models.EmbeddingRecord, 0),
		positions:  make(map[string]int),
	}, nil
}

// FromRecords builds an index holding records in the given order.
func FromRecords(dimensions int, records []models.EmbeddingRecord) (*MemoryIndex, error) {
	m, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	if err := m.Upsert(records...); err != nil {
		return nil, err
	}
	return m, nil
}

// Upsert adds records or replaces those with an existing chunk ID. Nothing is
// applied if any vector has the wrong dimension.
func (m *MemoryIndex) Upsert(records ...models.EmbeddingRecord) error {
	for _, r := range records {
		if len(r.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", r.ChunkID, len(r.Vector), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		if pos, ok := m.positions[r.ChunkID]; ok {
			m.records[pos] = r
			continue
		}
		m.positions[r.ChunkID] = len(m.records)
		m.records = append(m.records, r)
	}
	return nil
}

// Remove deletes records by chunk ID and returns how many were removed.
func (m *MemoryIndex) Remove(chunkIDs ...string) int {
	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		drop[id] = true
	}
	return m.removeWhere(func(r *models.EmbeddingRecord) bool { return drop[r.ChunkID] })
}

// RemoveDocument deletes every record of a document.
func (m *MemoryIndex) RemoveDocument(documentID string) int {
	return m.removeWhere(func(r *models.EmbeddingRecord) bool { return r.DocumentID == documentID })
}

func (m *MemoryIndex) removeWhere(match func(*models.EmbeddingRecord) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	removed := 0
	for i := range m.records {
		if match(&m.records[i]) {
			removed++
			continue
		}
		kept = append(kept, m.records[i])
	}
	clear(m.records[len(kept):])
	m.records = kept
	m.positions = make(map[string]int, len(kept))
	for i, r := range kept {
		m.positions[r.ChunkID] = i
	}
	return removed
}

// Search returns the k records most similar to query, best first. Fewer are
// returned when the index holds fewer than k records.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	return m.SearchFunc(ctx, query, k, nil)
}

// SearchFunc is Search restricted to records accepted by keep. A nil keep accepts all.
func (m *MemoryIndex) SearchFunc(ctx context.Context, query []float32, k int, keep Filter) ([]Hit, error) {
	if len(query) != m.dimensions {
		return nil, &errs.RetrievalError{
			Err: fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions),
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.records) == 0 {
		return nil, nil
	}
	hits := make([]Hit, 0, len(m.records))
	for i := range m.records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec := &m.records[i]
		if keep != nil && !keep(rec) {
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: utils.CosineSimilarity(query, rec.Vector)})
	}
	// Stable: ties keep insertion order.
	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Records returns a copy of the indexed records in insertion order. Vectors are shared.
func (m *MemoryIndex) Records() []models.EmbeddingRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// Size returns the number of records in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int { return m.dimensions }
