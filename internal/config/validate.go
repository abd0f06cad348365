package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the constraints between chunking and the embedder.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return fmt.Errorf("invalid config: chunking.overlap (%d) must be smaller than chunking.size (%d)",
			cfg.Chunking.Overlap, cfg.Chunking.Size)
	}
	if cfg.Chunking.Size > cfg.Embedding.MaxInputChars {
		return fmt.Errorf("invalid config: chunking.size (%d) exceeds embedding.max_input_chars (%d)",
			cfg.Chunking.Size, cfg.Embedding.MaxInputChars)
	}
	return nil
}
