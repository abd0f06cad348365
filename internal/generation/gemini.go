package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/pkg/utils"
)

// GeminiGenerator generates with the Gemini API.
type GeminiGenerator struct {
	client  *genai.Client
	cfg     config.GenerationConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGeminiGenerator creates a Gemini generator. cfg.APIKey is required.
func NewGeminiGenerator(ctx context.Context, cfg config.GenerationConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	logger = utils.OrNop(logger)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini generator: API key is required (set GOOGLE_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generator: create client: %w", err)
	}
	logger.Debug("gemini generator initialized", zap.String("model", cfg.Model))
	return &GeminiGenerator{
		client:  client,
		cfg:     cfg,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger,
	}, nil
}

// Generate sends one prompt and returns the concatenated text parts.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := wait(ctx, ProviderGemini, g.limiter); err != nil {
		return "", err
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.MaxOutputTokens
	}
	gc := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.cfg.Temperature),
		TopP:              genai.Ptr(g.cfg.TopP),
		TopK:              genai.Ptr(float32(g.cfg.TopK)),
		MaxOutputTokens:   int32(maxTokens),
		SystemInstruction: genai.NewContentFromText(SystemInstruction(opts.Mode), genai.RoleUser),
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, gc)
	if err != nil {
		return "", classify(ProviderGemini, err)
	}

	var out strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					out.WriteString(part.Text)
				}
			}
			// Only the first candidate with content is used.
			if out.Len() > 0 {
				break
			}
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", &errs.GenerationError{Kind: errs.GenerationPermanent, Provider: ProviderGemini, Err: ErrEmptyResponse}
	}
	return out.String(), nil
}

// Model returns "gemini/<model>".
func (g *GeminiGenerator) Model() string { return ProviderGemini + "/" + g.cfg.Model }
