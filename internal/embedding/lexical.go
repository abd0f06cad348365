package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/hyperjump/hondana/pkg/utils"
)

// LexicalModel is the model identity of LexicalEmbedder.
const LexicalModel = "lexical-v1"

// LexicalEmbedder is an offline, deterministic embedder. It hashes stemmed,
// stop-word-filtered terms into a signed bag-of-words vector weighted by
// 1+ln(tf) and normalizes it, so cosine similarity measures shared vocabulary.
type LexicalEmbedder struct {
	dimensions    int
	maxInputChars int
}

// NewLexicalEmbedder returns a lexical embedder. Non-positive arguments use 1024 dimensions
// and an 8000 character limit.
func NewLexicalEmbedder(dimensions, maxInputChars int) *LexicalEmbedder {
	if dimensions <= 0 {
		dimensions = 1024
	}
	if maxInputChars <= 0 {
		maxInputChars = 8000
	}
	return &LexicalEmbedder{dimensions: dimensions, maxInputChars: maxInputChars}
}

// Embed returns the hashed term vector of text.
func (e *LexicalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := CheckInput(text, e.maxInputChars); err != nil {
		return nil, err
	}
	tf := make(map[string]int)
	for _, term := range Terms(text) {
		tf[term]++
	}
	emb := make([]float32, e.dimensions)
	for term, n := range tf {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		weight := float32(1 + math.Log(float64(n)))
		if sum>>63 == 1 {
			weight = -weight
		}
		emb[sum%uint64(e.dimensions)] += weight
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *LexicalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *LexicalEmbedder) Dimensions() int { return e.dimensions }

// Model returns LexicalModel.
func (e *LexicalEmbedder) Model() string { return LexicalModel }

// MaxInputChars returns the input limit.
func (e *LexicalEmbedder) MaxInputChars() int { return e.maxInputChars }

// Close is a no-op.
func (e *LexicalEmbedder) Close() error { return nil }

var stopWords = map[string]bool{
	"a": true, "about": true, "also": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "but": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true, "in": true, "into": true,
	"is": true, "it": true, "its": true, "may": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "our": true, "so": true, "such": true, "than": true, "that": true,
	"the": true, "their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "to": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true, "will": true,
	"with": true, "you": true, "your": true,
}

// Terms lowercases text, splits it on anything that is not a letter or digit,
// drops stop words and single characters, and strips plural "s".
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		terms = append(terms, stem(f))
	}
	return terms
}

func stem(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is") {
		return w[:len(w)-1]
	}
	return w
}
