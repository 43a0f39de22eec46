package embeddings

import (
	"context"
	"fmt"
	"strings"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// langchainBackend adapts a langchaingo embedder. It serves Text Embeddings
// Inference through its OpenAI-compatible route and Ollama natively.
type langchainBackend struct {
	embedder lcembeddings.Embedder
}

// newTEIBackend targets a Text Embeddings Inference server, which is how
// multilingual models such as intfloat/multilingual-e5-small are served.
func newTEIBackend(cfg ProviderConfig) (backend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: tei provider requires base_url", ErrInvalidConfig)
	}
	token := cfg.APIKey
	if token == "" {
		// The client refuses an empty token; TEI ignores it.
		token = "tei"
	}

	llm, err := lcopenai.New(
		lcopenai.WithBaseURL(teiBaseURL(cfg.BaseURL)),
		lcopenai.WithToken(token),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tei client: %w", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("creating tei embedder: %w", err)
	}
	return &langchainBackend{embedder: embedder}, nil
}

func newOllamaBackend(cfg ProviderConfig) (backend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating ollama embedder: %w", err)
	}
	return &langchainBackend{embedder: embedder}, nil
}

// teiBaseURL points at TEI's OpenAI-compatible /v1 prefix.
func teiBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (l *langchainBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := l.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

func (l *langchainBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (l *langchainBackend) close() error { return nil }
