package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// maxOpenAIInputs is the per-request input limit of the embeddings endpoint.
const maxOpenAIInputs = 2048

type openAIBackend struct {
	client *openai.Client
	model  string
}

func newOpenAIBackend(cfg ProviderConfig) (backend, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai provider needs an API key or a base URL", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIBackend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (o *openAIBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxOpenAIInputs {
		end := min(start+maxOpenAIInputs, len(texts))
		vecs, err := o.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (o *openAIBackend) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	// The API may return items out of order; Index is authoritative.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		vecs[d.Index] = v
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", ErrEmbeddingFailed, i)
		}
	}
	return vecs, nil
}

func (o *openAIBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *openAIBackend) close() error { return nil }
