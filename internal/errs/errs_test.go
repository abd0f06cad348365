package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestLooksTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("Error 429: Too Many Requests"), true},
		{"server error", errors.New("status 503 Service Unavailable"), true},
		{"overloaded", errors.New("model is overloaded"), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"quota exhausted", errors.New("429 RESOURCE_EXHAUSTED: quota exceeded"), false},
		{"bad request", errors.New("400 invalid argument"), false},
		{"auth", errors.New("401 API key not valid"), false},
		{"status digits in model name", errors.New("model gemini-500 not found"), false},
		{"status digits in count", errors.New("input has 5030 tokens, limit 2048"), false},
		{"unexpected eof", errors.New("read tcp: unexpected EOF"), true},
		{"eof inside word", errors.New("geofence region not supported"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksTransient(tt.err); got != tt.want {
				t.Errorf("LooksTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientGeneration(t *testing.T) {
	transient := &GenerationError{Kind: GenerationTransient, Provider: "gemini", Err: errors.New("503")}
	permanent := &GenerationError{Kind: GenerationPermanent, Err: errors.New("bad key")}

	if !IsTransientGeneration(fmt.Errorf("ask: %w", transient)) {
		t.Error("wrapped transient error should be transient")
	}
	if IsTransientGeneration(permanent) {
		t.Error("permanent error reported transient")
	}
	if IsTransientGeneration(errors.New("503")) {
		t.Error("plain error is not a GenerationError")
	}
}

func TestIsUnavailableEmbedding(t *testing.T) {
	if !IsUnavailableEmbedding(&EmbeddingError{Kind: EmbeddingUnavailable, Err: errors.New("timeout")}) {
		t.Error("unavailable should be reported")
	}
	if IsUnavailableEmbedding(&EmbeddingError{Kind: EmbeddingInvalidInput, Err: errors.New("empty")}) {
		t.Error("invalid input is not unavailable")
	}
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("cause")
	tests := []struct {
		err  error
		want string
	}{
		{&IngestionError{Path: "/books/a.pdf", Err: cause}, "ingest /books/a.pdf: cause"},
		{&EmbeddingError{Kind: EmbeddingInvalidInput, Err: cause}, "embedding invalid_input: cause"},
		{&IndexCorruptionError{Err: cause}, "index store corrupted: cause"},
		{&IndexCorruptionError{Path: "/data/idx", Err: cause}, "index store /data/idx corrupted: cause"},
		{&RetrievalError{Err: cause}, "retrieval: cause"},
		{&GenerationError{Kind: GenerationTransient, Err: cause}, "generation (transient): cause"},
		{&GenerationError{Kind: GenerationPermanent, Provider: "claude", Err: cause}, "claude generation (permanent): cause"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
		if !errors.Is(tt.err, cause) {
			t.Errorf("%T does not unwrap to its cause", tt.err)
		}
	}
}

func TestRetryable_GeminiStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", genai.APIError{Code: 503, Status: "UNAVAILABLE"}, true},
		{"rate limited", genai.APIError{Code: 429, Message: "Resource has been exhausted, retry later"}, true},
		{"quota", genai.APIError{Code: 429, Message: "You exceeded your current quota"}, false},
		{"bad request mentioning 500", genai.APIError{Code: 400, Message: "batch of 500 texts exceeds limit"}, false},
		{"not found", genai.APIError{Code: 404, Message: "models/gemini-503 is not found"}, false},
		{"wrapped", fmt.Errorf("embed: %w", genai.APIError{Code: 500}), true},
		{"pointer", &genai.APIError{Code: 502}, true},
		{"plain message", errors.New("connection reset by peer"), true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
