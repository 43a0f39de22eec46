// Package config provides configuration loading for ragdocs.
//
// Configuration comes from (lowest to highest precedence) built-in defaults,
// a YAML file, a .env file and RAGDOCS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete ragdocs configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Sources    SourcesConfig    `koanf:"sources"`
	Assistant  AssistantConfig  `koanf:"assistant"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Secrets    SecretsConfig    `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig configures the document store.
type StoreConfig struct {
	// Path is the directory holding the persistent collection.
	Path               string   `koanf:"path"`
	Collection         string   `koanf:"collection"`
	Compress           bool     `koanf:"compress"`
	Ephemeral          bool     `koanf:"ephemeral"`
	ContentCharLimit   int      `koanf:"content_char_limit"`
	BatchSize          int      `koanf:"batch_size"`
	MaxResults         int      `koanf:"max_results"`
	DefaultResults     int      `koanf:"default_results"`
	EmbedTimeout       Duration `koanf:"embed_timeout"`
	QueryTimeout       Duration `koanf:"query_timeout"`
	DedupByContentHash bool     `koanf:"dedup_by_content_hash"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of fastembed, openai, tei, ollama.
	Provider  string   `koanf:"provider"`
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	CacheDir  string   `koanf:"cache_dir"`
	MaxLength int      `koanf:"max_length"`
	Dimension int      `koanf:"dimension"`
	Timeout   Duration `koanf:"timeout"`
}

// PipelineConfig parameterizes the ingestion pipeline.
type PipelineConfig struct {
	PerSourceLimit  int  `koanf:"per_source_limit"`
	ClearBeforeSync bool `koanf:"clear_before_sync"`
	// MinDocuments tops a sync up with the sample corpus when the sources
	// return fewer documents. Zero disables it.
	MinDocuments int `koanf:"min_documents"`
}

// AssistantConfig configures the question answering LLM.
type AssistantConfig struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	TopK        int     `koanf:"top_k"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// OTEL also exports log records through the telemetry collector.
	OTEL bool `koanf:"otel"`
}

// TelemetryConfig is the subset of telemetry settings exposed to users.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// SecretsConfig controls secret scrubbing of ingested content.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Path:             "./chroma_db",
			Collection:       "company_docs",
			Compress:         false,
			ContentCharLimit: 2000,
			BatchSize:        16,
			MaxResults:       50,
			DefaultResults:   20,
			EmbedTimeout:     Duration(60 * time.Second),
			QueryTimeout:     Duration(30 * time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "fastembed",
			Model:     "BAAI/bge-small-en-v1.5",
			CacheDir:  "~/.cache/ragdocs/models",
			MaxLength: 512,
			Timeout:   Duration(60 * time.Second),
		},
		Pipeline: PipelineConfig{
			PerSourceLimit: 50,
		},
		Sources: SourcesConfig{
			Notion: NotionConfig{
				PageSize:          100,
				RequestsPerSecond: 3,
			},
			Drive: DriveConfig{
				MaxFileSize:       5 << 20,
				RequestsPerSecond: 10,
			},
			Files: FilesConfig{
				Extensions: []string{".txt", ".md", ".csv", ".pdf", ".docx", ".xlsx", ".pptx"},
			},
		},
		Assistant: AssistantConfig{
			Provider:    "openai",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.3,
			MaxTokens:   1000,
			TopK:        5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration. Source sections are validated only when
// enabled and fail with a *ConfigError naming the missing field.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("%w: store.collection is required", ErrInvalidConfig)
	}
	if !c.Store.Ephemeral && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required unless store.ephemeral is set", ErrInvalidConfig)
	}
	if c.Store.ContentCharLimit <= 0 {
		return fmt.Errorf("%w: store.content_char_limit must be positive", ErrInvalidConfig)
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("%w: store.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Store.MaxResults <= 0 {
		return fmt.Errorf("%w: store.max_results must be positive", ErrInvalidConfig)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "openai", "tei", "ollama":
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Pipeline.PerSourceLimit < 0 {
		return fmt.Errorf("%w: pipeline.per_source_limit must be >= 0", ErrInvalidConfig)
	}
	if c.Pipeline.MinDocuments < 0 {
		return fmt.Errorf("%w: pipeline.min_documents must be >= 0", ErrInvalidConfig)
	}
	switch c.Assistant.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown assistant.provider %q", ErrInvalidConfig, c.Assistant.Provider)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry.sample_rate must be between 0 and 1", ErrInvalidConfig)
	}
	return c.Sources.Validate()
}
