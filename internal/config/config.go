// Package config provides configuration loading for foliod.
package config

import (
	"fmt"
	"time"

	"github.com/foliolabs/folio/internal/logging"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   logging.Config  `koanf:"logging"`
	Database  DatabaseConfig  `koanf:"database"`
	Drive     DriveConfig     `koanf:"drive"`
	OCR       OCRConfig       `koanf:"ocr"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Generator GeneratorConfig `koanf:"generator"`
	Reranker  RerankerConfig  `koanf:"reranker"`
	Indexing  IndexingConfig  `koanf:"indexing"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Chat      ChatConfig      `koanf:"chat"`
	Sync      SyncConfig      `koanf:"sync"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"max_conns"`
}

// DriveConfig configures the drive provider client.
type DriveConfig struct {
	BaseURL  string        `koanf:"base_url"`
	Timeout  time.Duration `koanf:"timeout"`
	PageSize int           `koanf:"page_size"`

	// Token is the bearer token used for every tenant. The OAuth flow
	// lives in the surrounding platform; single-tenant deployments set
	// this directly.
	Token string `koanf:"token"`
}

// OCRConfig configures the remote OCR service.
type OCRConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	Model          string        `koanf:"model"`
	Dimensions     int           `koanf:"dimensions"`
	BatchSize      int           `koanf:"batch_size"`
	MaxConcurrency int           `koanf:"max_concurrency"`
	Timeout        time.Duration `koanf:"timeout"`
}

// GeneratorConfig configures the generation model client.
type GeneratorConfig struct {
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	FastModel string        `koanf:"fast_model"`
	MaxTokens int           `koanf:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout"`
}

// RerankerConfig configures the optional rerank pass.
type RerankerConfig struct {
	Enabled bool          `koanf:"enabled"`
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// IndexingConfig configures the worker pool and chunk pipeline.
type IndexingConfig struct {
	Workers             int           `koanf:"workers"`
	PollInterval        time.Duration `koanf:"poll_interval"`
	MaxAttempts         int           `koanf:"max_attempts"`
	RetryBackoffBase    time.Duration `koanf:"retry_backoff_base"`
	RetryBackoffCap     time.Duration `koanf:"retry_backoff_cap"`
	ContextualChunking  bool          `koanf:"contextual_chunking_enabled"`
	AugmentConcurrency  int           `koanf:"augment_concurrency"`
	ChunkTargetChars    int           `koanf:"chunk_target_chars"`
	ChunkOverlapChars   int           `koanf:"chunk_overlap_chars"`
	MinAugmentDocLength int           `koanf:"min_augment_doc_length"`
}

// RetrievalConfig configures the hybrid retriever.
type RetrievalConfig struct {
	VectorWeight    float64       `koanf:"vector_weight"`
	LexicalWeight   float64       `koanf:"lexical_weight"`
	RecencyWeight   float64       `koanf:"recency_weight"`
	RecencyHalfLife time.Duration `koanf:"recency_half_life"`
	CandidatePool   int           `koanf:"candidate_pool"`
	RerankPool      int           `koanf:"rerank_pool"`
	DefaultLimit    int           `koanf:"default_limit"`
}

// ChatConfig configures the chat loop.
type ChatConfig struct {
	MaxIterations     int           `koanf:"max_iterations"`
	MaxIterationsCap  int           `koanf:"max_iterations_cap"`
	HistoryMessages   int           `koanf:"history_messages"`
	ToolResultMaxSize int           `koanf:"tool_result_max_size"`
	StaleAfter        time.Duration `koanf:"stale_after"`
}

// SyncConfig configures the folder synchronizer.
type SyncConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if c.Chat.MaxIterations > c.Chat.MaxIterationsCap {
		return fmt.Errorf("chat.max_iterations %d exceeds cap %d", c.Chat.MaxIterations, c.Chat.MaxIterationsCap)
	}
	wsum := c.Retrieval.VectorWeight + c.Retrieval.LexicalWeight + c.Retrieval.RecencyWeight
	if wsum <= 0 {
		return fmt.Errorf("retrieval weights must sum to a positive value")
	}
	if c.Reranker.Enabled && c.Reranker.BaseURL == "" {
		return fmt.Errorf("reranker.base_url required when reranker is enabled")
	}
	return nil
}

// applyDefaults fills zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 25
	}
	if cfg.Drive.Timeout == 0 {
		cfg.Drive.Timeout = 30 * time.Second
	}
	if cfg.Drive.PageSize == 0 {
		cfg.Drive.PageSize = 100
	}
	if cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = 60 * time.Second
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text-v1.5"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 50
	}
	if cfg.Embedding.MaxConcurrency == 0 {
		cfg.Embedding.MaxConcurrency = 6
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Generator.MaxTokens == 0 {
		cfg.Generator.MaxTokens = 4096
	}
	if cfg.Generator.Timeout == 0 {
		cfg.Generator.Timeout = 60 * time.Second
	}
	if cfg.Reranker.Timeout == 0 {
		cfg.Reranker.Timeout = 15 * time.Second
	}
	if cfg.Indexing.Workers == 0 {
		cfg.Indexing.Workers = 20
	}
	if cfg.Indexing.PollInterval == 0 {
		cfg.Indexing.PollInterval = 2 * time.Second
	}
	if cfg.Indexing.MaxAttempts == 0 {
		cfg.Indexing.MaxAttempts = 3
	}
	if cfg.Indexing.RetryBackoffBase == 0 {
		cfg.Indexing.RetryBackoffBase = 30 * time.Second
	}
	if cfg.Indexing.RetryBackoffCap == 0 {
		cfg.Indexing.RetryBackoffCap = 15 * time.Minute
	}
	if cfg.Indexing.AugmentConcurrency == 0 {
		cfg.Indexing.AugmentConcurrency = 5
	}
	if cfg.Indexing.ChunkTargetChars == 0 {
		cfg.Indexing.ChunkTargetChars = 1500
	}
	if cfg.Indexing.ChunkOverlapChars == 0 {
		cfg.Indexing.ChunkOverlapChars = 150
	}
	if cfg.Indexing.MinAugmentDocLength == 0 {
		cfg.Indexing.MinAugmentDocLength = 500
	}
	if cfg.Retrieval.VectorWeight == 0 && cfg.Retrieval.LexicalWeight == 0 && cfg.Retrieval.RecencyWeight == 0 {
		cfg.Retrieval.VectorWeight = 0.6
		cfg.Retrieval.LexicalWeight = 0.2
		cfg.Retrieval.RecencyWeight = 0.2
	}
	if cfg.Retrieval.RecencyHalfLife == 0 {
		cfg.Retrieval.RecencyHalfLife = 30 * 24 * time.Hour
	}
	if cfg.Retrieval.CandidatePool == 0 {
		cfg.Retrieval.CandidatePool = 50
	}
	if cfg.Retrieval.RerankPool == 0 {
		cfg.Retrieval.RerankPool = 30
	}
	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = 10
	}
	if cfg.Chat.MaxIterations == 0 {
		cfg.Chat.MaxIterations = 3
	}
	if cfg.Chat.MaxIterationsCap == 0 {
		cfg.Chat.MaxIterationsCap = 10
	}
	if cfg.Chat.HistoryMessages == 0 {
		cfg.Chat.HistoryMessages = 10
	}
	if cfg.Chat.ToolResultMaxSize == 0 {
		cfg.Chat.ToolResultMaxSize = 500
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = time.Hour
	}
	if cfg.Chat.StaleAfter == 0 {
		cfg.Chat.StaleAfter = 2 * cfg.Sync.Interval
	}
}
