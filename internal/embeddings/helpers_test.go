package embeddings

import (
	"context"

	"go.uber.org/zap"
)

type stubBackend struct {
	dim   int
	short bool
	err   error
}

func (s *stubBackend) embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	n := len(texts)
	if s.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, s.dim)
		out[i][0] = 2
	}
	return out, nil
}

func (s *stubBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubBackend) close() error { return nil }

func zapNop() *zap.Logger { return zap.NewNop() }
