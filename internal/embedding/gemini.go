package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/internal/retry"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// geminiBatchLimit is the most texts the API embeds in one request.
const geminiBatchLimit = 100

// geminiTaskType is used for both corpus chunks and queries so the two share one space.
const geminiTaskType = "SEMANTIC_SIMILARITY"

// GeminiEmbedder embeds text with the Gemini embedding API.
type GeminiEmbedder struct {
	client        *genai.Client
	model         string
	dimensions    int
	maxInputChars int
	timeout       time.Duration
	limiter       *rate.Limiter
	retry         retry.Policy
	logger        *zap.Logger
}

// GeminiOption configures a GeminiEmbedder.
type GeminiOption func(*GeminiEmbedder)

// WithLogger sets a logger for retry warnings.
func WithLogger(l *zap.Logger) GeminiOption {
	return func(e *GeminiEmbedder) { e.logger = l }
}

// WithTimeout bounds each API request.
func WithTimeout(d time.Duration) GeminiOption {
	return func(e *GeminiEmbedder) { e.timeout = d }
}

// WithRequestsPerMinute throttles API requests. Zero disables throttling.
func WithRequestsPerMinute(rpm int) GeminiOption {
	return func(e *GeminiEmbedder) {
		if rpm > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60), 1)
		}
	}
}

// WithRetry sets the backoff for transient API failures.
func WithRetry(p retry.Policy) GeminiOption {
	return func(e *GeminiEmbedder) { e.retry = p }
}

// NewGeminiEmbedder creates a Gemini embedder. apiKey is required.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dimensions, maxInputChars int, opts ...GeminiOption) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required (set GOOGLE_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	e := &GeminiEmbedder{
		client:        client,
		model:         model,
		dimensions:    dimensions,
		maxInputChars: maxInputChars,
		timeout:       30 * time.Second,
		retry:         retry.DefaultPolicy(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed embeds a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of up to 100, preserving order.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if err := CheckInput(text, e.maxInputChars); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))
		var vecs [][]float32
		attempts, err := retry.Do(ctx, e.retry, errs.Retryable, func(ctx context.Context) error {
			var callErr error
			vecs, callErr = e.embedRequest(ctx, texts[start:end])
			if callErr != nil && errs.Retryable(callErr) {
				e.logger.Warn("gemini embed failed, retrying", zap.Error(callErr))
			}
			return callErr
		})
		if err != nil {
			return nil, &errs.EmbeddingError{
				Kind: errs.EmbeddingUnavailable,
				Err:  fmt.Errorf("gemini embed after %d attempt(s): %w", attempts, err),
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *GeminiEmbedder) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	dim := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType:             geminiTaskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", embeddingCount(resp), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) != e.dimensions {
			return nil, fmt.Errorf("gemini embedding %d has wrong dimension", i)
		}
		v := append([]float32(nil), emb.Values...)
		// Truncated Gemini embeddings are not unit length.
		utils.NormalizeL2(v)
		vecs[i] = v
	}
	return vecs, nil
}

func embeddingCount(resp *genai.EmbedContentResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}

// Dimensions returns the configured output dimensionality.
func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }

// Model returns the Gemini model name.
func (e *GeminiEmbedder) Model() string { return "gemini/" + e.model }

// MaxInputChars returns the input limit.
func (e *GeminiEmbedder) MaxInputChars() int { return e.maxInputChars }

// Close is a no-op; the genai client holds no resources that need releasing.
func (e *GeminiEmbedder) Close() error { return nil }
