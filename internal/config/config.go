// Package config provides configuration loading and structs for hondana.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug" toml:"debug"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Corpus     CorpusConfig     `yaml:"corpus" toml:"corpus"`
	Chunking   ChunkingConfig   `yaml:"chunking" toml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding" toml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" toml:"retrieval"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Answer     AnswerConfig     `yaml:"answer" toml:"answer"`
	Ingest     IngestConfig     `yaml:"ingest" toml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host" toml:"host"`
	Port           int           `yaml:"port" toml:"port" validate:"gte=1,lte=65535"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
}

// StorageConfig selects the persisted index backend and where it lives.
type StorageConfig struct {
	Backend      string `yaml:"backend" toml:"backend" validate:"oneof=sqlite badger"`
	DatabasePath string `yaml:"database_path" toml:"database_path"`
	BadgerPath   string `yaml:"badger_path" toml:"badger_path"`
}

// CorpusConfig describes the source document directory.
type CorpusConfig struct {
	Directory  string   `yaml:"directory" toml:"directory" validate:"required"`
	Extensions []string `yaml:"extensions" toml:"extensions"`
	Watch      bool     `yaml:"watch" toml:"watch"`
}

// ChunkingConfig is measured in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" toml:"overlap" validate:"gte=0"`
}

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" toml:"provider" validate:"oneof=lexical gemini onnx"`
	Model             string        `yaml:"model" toml:"model"`
	Dimensions        int           `yaml:"dimensions" toml:"dimensions" validate:"gt=0"`
	MaxInputChars     int           `yaml:"max_input_chars" toml:"max_input_chars" validate:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" toml:"timeout"`
	CacheSize         int           `yaml:"cache_size" toml:"cache_size" validate:"gte=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" toml:"requests_per_minute" validate:"gte=0"`
	APIKey            string        `yaml:"api_key" toml:"api_key"`
	// ONNX only.
	ModelPath string `yaml:"model_path" toml:"model_path"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`
}

// RetrievalConfig holds top-k and the relevance threshold.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k" toml:"top_k" validate:"gt=0"`
	MaxTopK  int     `yaml:"max_top_k" toml:"max_top_k" validate:"gtefield=TopK"`
	MinScore float64 `yaml:"min_score" toml:"min_score" validate:"gte=-1,lte=1"`
}

// GenerationConfig selects and tunes the generator.
type GenerationConfig struct {
	Provider          string  `yaml:"provider" toml:"provider" validate:"oneof=gemini claude"`
	Model             string  `yaml:"model" toml:"model"`
	APIKey            string  `yaml:"api_key" toml:"api_key"`
	Temperature       float32 `yaml:"temperature" toml:"temperature" validate:"gte=0,lte=2"`
	TopP              float32 `yaml:"top_p" toml:"top_p" validate:"gte=0,lte=1"`
	TopK              int     `yaml:"top_k" toml:"top_k" validate:"gte=0"`
	MaxOutputTokens   int     `yaml:"max_output_tokens" toml:"max_output_tokens" validate:"gt=0"`
	RequestsPerMinute int     `yaml:"requests_per_minute" toml:"requests_per_minute" validate:"gte=0"`
}

// AnswerConfig tunes the orchestrator.
type AnswerConfig struct {
	Timeout         time.Duration `yaml:"timeout" toml:"timeout"`
	MaxContextChars int           `yaml:"max_context_chars" toml:"max_context_chars" validate:"gt=0"`
	Retry           RetryConfig   `yaml:"retry" toml:"retry"`
}

// RetryConfig is a bounded exponential backoff.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" toml:"max_attempts" validate:"gte=1,lte=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff" toml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" toml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" toml:"multiplier" validate:"gte=1"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	BatchSize int `yaml:"batch_size" toml:"batch_size" validate:"gt=0"`
}

// Load reads and parses the config file at path, expands paths, applies
// defaults and environment secrets, and validates the result. Files ending in
// .toml are decoded as TOML; everything else as YAML. A .env file next to the
// config file (or in the working directory) is loaded first if present.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	loadDotEnv(configDir)

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BadgerPath = expandPath(cfg.Storage.BadgerPath, configDir)
	cfg.Corpus.Directory = expandPath(cfg.Corpus.Directory, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// loadDotEnv loads .env from dir and then the working directory. Variables
// already set in the environment win; a missing file is not an error.
func loadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	_ = godotenv.Load()
}

// ApplyEnv fills API keys from the environment when the config leaves them empty.
func ApplyEnv(cfg *Config) {
	googleKey := firstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY")
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "gemini" {
		cfg.Embedding.APIKey = googleKey
	}
	if cfg.Generation.APIKey == "" {
		switch cfg.Generation.Provider {
		case "gemini":
			cfg.Generation.APIKey = googleKey
		case "claude":
			cfg.Generation.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
