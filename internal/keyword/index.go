// Package keyword resolves loosely written book names to indexed documents.
package keyword

import (
	"context"
	"strings"
)

// Match is a resolved document.
type Match struct {
	DocumentID string
	Title      string
}

// Resolver maps a book name to a document.
type Resolver interface {
	// Resolve returns the best matching document, or false when nothing is close enough.
	Resolve(ctx context.Context, book string) (Match, bool, error)
}

// normalizeTitle lowercases a title and treats underscores and dashes as
// spaces, so "heat_exchangers-101" matches "heat exchangers 101".
func normalizeTitle(title string) string {
	r := strings.NewReplacer("_", " ", "-", " ")
	return strings.Join(strings.Fields(strings.ToLower(r.Replace(title))), " ")
}
