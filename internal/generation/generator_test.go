package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want errs.GenerationKind
	}{
		{errors.New("Error 503, Message: The model is overloaded"), errs.GenerationTransient},
		{errors.New("rpc error: code = Unavailable"), errs.GenerationTransient},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), errs.GenerationTransient},
		{errors.New("Error 429, RESOURCE_EXHAUSTED: quota exceeded for this project"), errs.GenerationPermanent},
		{errors.New("Error 400, API key not valid"), errs.GenerationPermanent},
		{context.Canceled, errs.GenerationPermanent},
		{genai.APIError{Code: 503, Message: "The model is overloaded"}, errs.GenerationTransient},
		{genai.APIError{Code: 429, Message: "Quota exceeded for metric generate_content_requests"}, errs.GenerationPermanent},
		{genai.APIError{Code: 404, Message: "models/gemini-500-pro is not found"}, errs.GenerationPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			var ge *errs.GenerationError
			if !errors.As(classify("gemini", tt.err), &ge) {
				t.Fatal("expected GenerationError")
			}
			if ge.Kind != tt.want || ge.Provider != "gemini" {
				t.Errorf("got %s/%s, want %s", ge.Provider, ge.Kind, tt.want)
			}
			if ge.Err == nil || ge.Err.Error() != tt.err.Error() {
				t.Error("cause not wrapped")
			}
		})
	}

	already := &errs.GenerationError{Kind: errs.GenerationTransient, Provider: "x", Err: errors.New("503")}
	if classify("gemini", already) != error(already) {
		t.Error("classified errors should pass through")
	}
}

func TestSystemInstruction(t *testing.T) {
	grounded := SystemInstruction(models.ModeGrounded)
	general := SystemInstruction(models.ModeGeneral)
	if grounded == general {
		t.Fatal("modes should have different instructions")
	}
	if !strings.Contains(grounded, "[Source N]") {
		t.Errorf("grounded instruction should explain citations: %q", grounded)
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	for _, provider := range []string{ProviderGemini, ProviderClaude} {
		g, err := New(context.Background(), config.GenerationConfig{Provider: provider, Model: "m"}, zap.NewNop())
		if err == nil || !strings.Contains(err.Error(), "API key") {
			t.Errorf("%s: expected API key error, got %v", provider, err)
		}
		if g != nil {
			t.Errorf("%s: generator must be nil on error, got %T", provider, g)
		}
	}
	if _, err := New(context.Background(), config.GenerationConfig{Provider: "gpt"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewClaudeGenerator_Model(t *testing.T) {
	g, err := NewClaudeGenerator(config.GenerationConfig{APIKey: "test", Model: "claude-sonnet-4-5"}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if g.Model() != "claude/claude-sonnet-4-5" {
		t.Errorf("Model=%s", g.Model())
	}
}

func TestWait_CanceledContext(t *testing.T) {
	l := newLimiter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = l.Allow() // drain the single token
	err := wait(ctx, ProviderGemini, l)
	var ge *errs.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if newLimiter(0) != nil {
		t.Error("zero rate should disable limiting")
	}
}

func TestUnavailable(t *testing.T) {
	cause := errors.New("API key is required")
	var g Generator = &Unavailable{Provider: ProviderGemini, Err: cause}
	_, err := g.Generate(context.Background(), "q", Options{})
	var ge *errs.GenerationError
	if !errors.As(err, &ge) || ge.Transient() || !errors.Is(err, cause) {
		t.Errorf("expected permanent error wrapping cause, got %v", err)
	}
}
