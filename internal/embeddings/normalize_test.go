package embeddings

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	z := ZeroVector(5)
	Normalize(z)
	assert.True(t, IsZero(z))
	assert.Len(t, z, 5)
}

func TestDegraded(t *testing.T) {
	cause := errors.New("onnx runtime missing")
	d := NewDegraded("m", 384, cause)

	_, err := d.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "onnx runtime missing")
	assert.Equal(t, cause, d.Cause())
	assert.Equal(t, 384, d.Dimension())
	assert.Equal(t, "m", d.Model())
	assert.True(t, IsDegraded(d))
	assert.True(t, IsDegraded(nil))
	assert.False(t, IsDegraded(NewTestProvider(4)))
}

func TestTestProvider_Deterministic(t *testing.T) {
	p := NewTestProvider(256)
	ctx := context.Background()

	a, err := p.EmbedDocuments(ctx, []string{"プロジェクト計画書", "プロジェクト計画書"})
	require.NoError(t, err)
	assert.Equal(t, a[0], a[1])
	assert.InDelta(t, 1.0, norm(a[0]), 1e-6)

	q, err := p.EmbedQuery(ctx, "プロジェクト計画書")
	require.NoError(t, err)
	assert.Equal(t, a[0], q)
	assert.EqualValues(t, 2, p.Calls())
}

func TestTestProvider_FailOnAndDelay(t *testing.T) {
	p := &TestProvider{Dim: 8, FailOn: "poison"}
	_, err := p.EmbedDocuments(context.Background(), []string{"ok", "poison pill"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	p = &TestProvider{Dim: 8, Delay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.EmbedQuery(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
