package models

import "time"

// Mode says how an answer was (or would have been) produced.
type Mode string

const (
	// ModeAuto lets the orchestrator pick grounded or general from retrieval.
	ModeAuto     Mode = "auto"
	ModeGrounded Mode = "grounded"
	ModeGeneral  Mode = "general"
)

// Status of an Answer.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Question is one query handed to the orchestrator.
type Question struct {
	Text string `json:"question" validate:"required"`
	// Mode is ModeAuto (default) or ModeGeneral to skip retrieval.
	Mode Mode `json:"mode,omitempty" validate:"omitempty,oneof=auto general"`
	// Book restricts retrieval to a single document, matched by title.
	Book string `json:"book,omitempty"`
	TopK int    `json:"top_k,omitempty" validate:"gte=0"`
}

// Passage is one entry of a retrieval result.
type Passage struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Page       int     `json:"page"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Citation points at the document page a grounded answer drew from.
type Citation struct {
	Title string `json:"title"`
	Page  int    `json:"page"`
}

// Source is a citation with a short preview of the passage text.
type Source struct {
	Citation
	Preview string  `json:"preview"`
	Score   float64 `json:"score"`
}

// Answer is the result of one question. It is not modified after it is returned.
type Answer struct {
	ID          string     `json:"id"`
	Question    string     `json:"question"`
	Text        string     `json:"text"`
	Mode        Mode       `json:"mode"`
	Status      Status     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	Citations   []Citation `json:"citations"`
	Sources     []Source   `json:"sources,omitempty"`
	Attempts    int        `json:"attempts"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Failed reports whether the answer carries no usable text.
func (a *Answer) Failed() bool {
	return a.Status == StatusFailed
}
