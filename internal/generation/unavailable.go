package generation

import (
	"context"

	"github.com/hyperjump/hondana/internal/errs"
)

// Unavailable is a Generator that always fails permanently with Err. It stands
// in when the configured provider could not be set up, so ingestion and
// retrieval keep working.
type Unavailable struct {
	Provider string
	Err      error
}

// Generate returns a permanent GenerationError.
func (u *Unavailable) Generate(context.Context, string, Options) (string, error) {
	return "", &errs.GenerationError{Kind: errs.GenerationPermanent, Provider: u.Provider, Err: u.Err}
}

// Model returns the provider name.
func (u *Unavailable) Model() string { return u.Provider + "/unavailable" }
