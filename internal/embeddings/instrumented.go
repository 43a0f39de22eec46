package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// instrumented wraps a backend with input checks, normalisation and metrics.
type instrumented struct {
	backend   backend
	model     string
	dimension int
	metrics   *Metrics
	logger    *zap.Logger
}

func newInstrumented(b backend, model string, dim int, logger *zap.Logger) Provider {
	return &instrumented{
		backend:   b,
		model:     model,
		dimension: dim,
		metrics:   NewMetrics(logger),
		logger:    logger,
	}
}

func (p *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	vecs, err := p.backend.embed(ctx, texts)
	if err == nil {
		err = p.check(vecs, len(texts))
	}
	p.metrics.RecordGeneration(ctx, p.model, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		p.logger.Debug("embedding batch failed", zap.Int("batch_size", len(texts)), zap.Error(err))
		return nil, err
	}

	for _, v := range vecs {
		Normalize(v)
	}
	return vecs, nil
}

func (p *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	vec, err := p.backend.embedQuery(ctx, text)
	if err == nil {
		err = p.check([][]float32{vec}, 1)
	}
	p.metrics.RecordGeneration(ctx, p.model, "embed_query", time.Since(start), 1, err)
	if err != nil {
		return nil, err
	}

	Normalize(vec)
	return vec, nil
}

func (p *instrumented) check(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != p.dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingFailed, i, len(v), p.dimension)
		}
	}
	return nil
}

func (p *instrumented) Dimension() int { return p.dimension }
func (p *instrumented) Model() string  { return p.model }
func (p *instrumented) Close() error   { return p.backend.close() }
