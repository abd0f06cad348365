package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/retry"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
)

// New creates the embedder selected by cfg.Provider. Remote embedders get
// throttling, timeouts and retries from cfg.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	switch cfg.Provider {
	case "", "lexical":
		return NewLexicalEmbedder(cfg.Dimensions, cfg.MaxInputChars), nil
	case "gemini":
		e, err := NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.MaxInputChars,
			WithLogger(logger),
			WithTimeout(cfg.Timeout),
			WithRequestsPerMinute(cfg.RequestsPerMinute),
			WithRetry(retry.DefaultPolicy()),
		)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "onnx":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Model, cfg.Dimensions, cfg.MaxTokens, cfg.MaxInputChars)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: lexical, gemini, onnx)", cfg.Provider)
	}
}
