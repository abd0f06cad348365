// Package generation wraps the text generation providers behind one interface.
package generation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
)

// Provider names accepted by generation.provider.
const (
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// ErrEmptyResponse means the provider answered without any text.
var ErrEmptyResponse = errors.New("no text in response")

// Options apply to one generation call.
type Options struct {
	// Mode selects the system instruction.
	Mode models.Mode
	// MaxTokens caps the response length; <= 0 uses the generator's default.
	MaxTokens int
}

// Generator produces text for a prompt. Failures are *errs.GenerationError.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	// Model identifies provider and model, e.g. "gemini/gemini-2.5-flash".
	Model() string
}

const (
	groundedInstruction = "You are a knowledgeable engineering assistant answering questions from a library of " +
		"textbooks. Answer using the numbered sources in the prompt. Refer to them as [Source N]. " +
		"If the sources do not contain the answer, say so rather than guessing."
	generalInstruction = "You are a knowledgeable engineering assistant. No passage in the library matched this " +
		"question, so answer from general knowledge and do not cite sources."
)

// SystemInstruction returns the system prompt for a mode.
func SystemInstruction(mode models.Mode) string {
	if mode == models.ModeGrounded {
		return groundedInstruction
	}
	return generalInstruction
}

// classify wraps a provider error as a GenerationError. Errors that are
// already classified pass through.
func classify(provider string, err error) error {
	var ge *errs.GenerationError
	if errors.As(err, &ge) {
		return err
	}
	kind := errs.GenerationPermanent
	if errs.Retryable(err) {
		kind = errs.GenerationTransient
	}
	return &errs.GenerationError{Kind: kind, Provider: provider, Err: err}
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1)
}

func wait(ctx context.Context, provider string, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return &errs.GenerationError{Kind: errs.GenerationTransient, Provider: provider, Err: err}
	}
	return nil
}

// New returns the generator selected by cfg.Provider.
func New(ctx context.Context, cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		g, err := NewGeminiGenerator(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ProviderClaude:
		g, err := NewClaudeGenerator(cfg, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s (supported: gemini, claude)", cfg.Provider)
	}
}
