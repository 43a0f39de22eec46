// Package embeddings turns text into L2-normalised vectors.
//
// A process builds exactly one Provider. When the configured model cannot be
// loaded, NewProvider still returns a usable Provider: a degraded one whose
// calls all fail with ErrModelUnavailable, so the document store can switch
// to keyword search instead of crashing.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrModelUnavailable is returned by every call on a degraded provider.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings. Implementations are safe for concurrent use.
type Provider interface {
	// EmbedDocuments returns one vector per input, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query. Some models prefix queries
	// differently from passages.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension is the length of every returned vector.
	Dimension() int
	// Model names the model, recorded alongside the index.
	Model() string
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of "fastembed" (default), "openai", "tei", "ollama".
	Provider string
	Model    string
	// BaseURL is the endpoint for openai, tei and ollama.
	BaseURL string
	APIKey  string
	// CacheDir is the fastembed model cache.
	CacheDir  string
	MaxLength int
	// Dimension overrides the dimension lookup for unknown models.
	Dimension int
	// Timeout bounds the startup probe of remote providers.
	Timeout time.Duration
}

// backend is what each concrete provider implements; the instrumented
// wrapper adds validation, normalisation and metrics on top.
type backend interface {
	embed(ctx context.Context, texts []string) ([][]float32, error)
	embedQuery(ctx context.Context, text string) ([]float32, error)
	close() error
}

// NewProvider builds the configured provider.
//
// On any load failure it returns a degraded provider together with the
// error. Callers that can run without embeddings keep the provider and log
// the error; IsDegraded reports the condition later.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" {
		cfg.Provider = "fastembed"
	}
	dim := cfg.Dimension
	if dim == 0 {
		dim = dimensionForModel(cfg.Model)
	}

	var (
		b   backend
		err error
	)
	switch cfg.Provider {
	case "fastembed":
		var modelDim int
		b, modelDim, err = newFastEmbedBackend(cfg)
		if err == nil {
			dim = modelDim
		}
	case "openai":
		b, err = newOpenAIBackend(cfg)
	case "tei":
		b, err = newTEIBackend(cfg)
	case "ollama":
		b, err = newOllamaBackend(cfg)
	default:
		err = fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err == nil && cfg.Provider != "fastembed" {
		dim, err = probe(ctx, b, dim, cfg.Timeout)
	}
	if err != nil {
		if b != nil {
			_ = b.close()
		}
		logger.Error("embedding model failed to load, running degraded",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.Error(err),
		)
		return NewDegraded(cfg.Model, dim, err), err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", dim),
	)
	return newInstrumented(b, cfg.Model, dim, logger), nil
}

// probe embeds a short text to prove a remote endpoint serves the model and
// learns its dimension.
func probe(ctx context.Context, b backend, dim int, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vecs, err := b.embed(ctx, []string{"ping"})
	if err != nil {
		return dim, fmt.Errorf("probing model: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return dim, fmt.Errorf("%w: probe returned no vector", ErrEmbeddingFailed)
	}
	return len(vecs[0]), nil
}

// knownDimensions covers the models this project is used with.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"intfloat/multilingual-e5-small":         384,
	"intfloat/multilingual-e5-base":          768,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
	"nomic-embed-text":                       768,
}

func dimensionForModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	default:
		return 384
	}
}
