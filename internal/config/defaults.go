package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/index.db"
	}
	if cfg.Storage.BadgerPath == "" {
		cfg.Storage.BadgerPath = "./data/badger"
	}
	if cfg.Corpus.Directory == "" {
		cfg.Corpus.Directory = "./books"
	}
	if cfg.Corpus.Extensions == nil {
		cfg.Corpus.Extensions = []string{".pdf", ".txt", ".md", ".docx", ".xlsx", ".pptx"}
	}
	// 1000 tokens at roughly four characters per token.
	if cfg.Chunking.Size == 0 {
		cfg.Chunking.Size = 4000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 800
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "lexical"
	}
	switch cfg.Embedding.Provider {
	case "gemini":
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "gemini-embedding-001"
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = 768
		}
		if cfg.Embedding.RequestsPerMinute == 0 {
			cfg.Embedding.RequestsPerMinute = 1500
		}
	case "onnx":
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "all-MiniLM-L6-v2"
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = 384
		}
		if cfg.Embedding.ModelPath == "" {
			cfg.Embedding.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
		}
		if cfg.Embedding.MaxTokens == 0 {
			cfg.Embedding.MaxTokens = 256
		}
	default:
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "lexical-v1"
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = 1024
		}
	}
	if cfg.Embedding.MaxInputChars == 0 {
		cfg.Embedding.MaxInputChars = 8000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 8
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 50
	}
	if cfg.Retrieval.MinScore == 0 {
		cfg.Retrieval.MinScore = 0.3
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "gemini"
	}
	if cfg.Generation.Model == "" {
		switch cfg.Generation.Provider {
		case "claude":
			cfg.Generation.Model = "claude-sonnet-4-5"
		default:
			cfg.Generation.Model = "gemini-2.5-flash"
		}
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.TopP == 0 {
		cfg.Generation.TopP = 0.95
	}
	if cfg.Generation.TopK == 0 {
		cfg.Generation.TopK = 40
	}
	if cfg.Generation.MaxOutputTokens == 0 {
		cfg.Generation.MaxOutputTokens = 4096
	}
	if cfg.Generation.RequestsPerMinute == 0 {
		cfg.Generation.RequestsPerMinute = 60
	}
	if cfg.Answer.Timeout == 0 {
		cfg.Answer.Timeout = 90 * time.Second
	}
	if cfg.Answer.MaxContextChars == 0 {
		cfg.Answer.MaxContextChars = 24000
	}
	if cfg.Answer.Retry.MaxAttempts == 0 {
		cfg.Answer.Retry.MaxAttempts = 3
	}
	if cfg.Answer.Retry.InitialBackoff == 0 {
		cfg.Answer.Retry.InitialBackoff = time.Second
	}
	if cfg.Answer.Retry.MaxBackoff == 0 {
		cfg.Answer.Retry.MaxBackoff = 8 * time.Second
	}
	if cfg.Answer.Retry.Multiplier == 0 {
		cfg.Answer.Retry.Multiplier = 2
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 64
	}
}
