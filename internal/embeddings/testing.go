package embeddings

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TestProvider is a deterministic Provider for tests. Each rune adds one to
// the component rune%dim, so texts sharing no characters (modulo dim) are
// orthogonal and identical texts embed identically.
type TestProvider struct {
	Dim int
	// FailOn fails a whole EmbedDocuments call when any text contains it,
	// and an EmbedQuery call whose query contains it.
	FailOn string
	// Delay is waited before answering; a cancelled context aborts the wait.
	Delay time.Duration

	calls  atomic.Int64
	mu     sync.Mutex
	closed bool
}

// NewTestProvider returns a TestProvider of the given dimension.
func NewTestProvider(dim int) *TestProvider {
	return &TestProvider{Dim: dim}
}

// Calls counts EmbedDocuments and EmbedQuery invocations.
func (p *TestProvider) Calls() int64 { return p.calls.Load() }

func (p *TestProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if p.FailOn != "" && strings.Contains(t, p.FailOn) {
			return nil, fmt.Errorf("%w: refusing text %d", ErrEmbeddingFailed, i)
		}
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p *TestProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, ErrEmptyInput
	}
	if p.FailOn != "" && strings.Contains(text, p.FailOn) {
		return nil, fmt.Errorf("%w: refusing query", ErrEmbeddingFailed)
	}
	return p.vector(text), nil
}

func (p *TestProvider) vector(text string) []float32 {
	v := make([]float32, p.Dim)
	for _, r := range text {
		v[int(r)%p.Dim]++
	}
	Normalize(v)
	return v
}

func (p *TestProvider) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *TestProvider) Dimension() int { return p.Dim }
func (p *TestProvider) Model() string  { return "test-rune-hash" }

func (p *TestProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *TestProvider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
