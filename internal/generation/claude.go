package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/errs"
	"github.com/hyperjump/hondana/pkg/utils"
)

// ClaudeGenerator generates with the Anthropic Messages API.
type ClaudeGenerator struct {
	client  anthropic.Client
	cfg     config.GenerationConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClaudeGenerator creates a Claude generator. cfg.APIKey is required.
func NewClaudeGenerator(cfg config.GenerationConfig, logger *zap.Logger) (*ClaudeGenerator, error) {
	logger = utils.OrNop(logger)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("claude generator: API key is required (set ANTHROPIC_API_KEY)")
	}
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		// Retries are done by the caller.
		option.WithMaxRetries(0),
	)
	logger.Debug("claude generator initialized", zap.String("model", cfg.Model))
	return &ClaudeGenerator{
		client:  client,
		cfg:     cfg,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger,
	}, nil
}

// Generate sends one prompt and returns the concatenated text blocks.
func (g *ClaudeGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := wait(ctx, ProviderClaude, g.limiter); err != nil {
		return "", err
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.MaxOutputTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: SystemInstruction(opts.Mode)},
		},
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(g.cfg.Temperature))
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyClaude(err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", &errs.GenerationError{Kind: errs.GenerationPermanent, Provider: ProviderClaude, Err: ErrEmptyResponse}
	}
	return out.String(), nil
}

// classifyClaude uses the HTTP status when the SDK reports one.
func classifyClaude(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := errs.GenerationPermanent
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= http.StatusInternalServerError,
			apiErr.StatusCode == 529:
			kind = errs.GenerationTransient
		}
		return &errs.GenerationError{Kind: kind, Provider: ProviderClaude, Err: err}
	}
	return classify(ProviderClaude, err)
}

// Model returns "claude/<model>".
func (g *ClaudeGenerator) Model() string { return ProviderClaude + "/" + g.cfg.Model }
