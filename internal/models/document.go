// Package models defines the records that flow through ingestion, retrieval and answering.
package models

import "time"

// Document is one source file of the corpus as recorded in the index store.
type Document struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	ContentHash string    `json:"content_hash"`
	PageCount   int       `json:"page_count"`
	SizeBytes   int64     `json:"size_bytes"`
	ChunkCount  int       `json:"chunk_count"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Page is the text of one page (or sheet, or slide) of a document. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded span of a document's text, the unit of embedding and retrieval.
// Start and End are rune offsets into the document's assembled text, End exclusive.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Page       int    `json:"page"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// EmbeddingRecord is a chunk's vector together with the text and citation
// metadata needed to display it without going back to the source.
type EmbeddingRecord struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	Page       int       `json:"page"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"-"`
	// Seq is the insertion order. It survives upserts of the same chunk.
	Seq int64 `json:"seq"`
}

// IndexState is the single scalar record persisted alongside the records.
type IndexState struct {
	Fingerprint   string    `json:"fingerprint"`
	EmbedderModel string    `json:"embedder_model"`
	Dimensions    int       `json:"dimensions"`
	ChunkSize     int       `json:"chunk_size"`
	ChunkOverlap  int       `json:"chunk_overlap"`
	UpdatedAt     time.Time `json:"updated_at"`
}
