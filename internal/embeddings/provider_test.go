package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbeddingServer answers OpenAI-style /embeddings requests with vectors
// of the given dimension. Items are returned in reverse order to exercise
// index placement.
func fakeEmbeddingServer(t *testing.T, dim int, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if fail != nil && fail.Load() {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			v := make([]float32, dim)
			v[len(req.Input[i])%dim] = 3
			data = append(data, item{Object: "embedding", Embedding: v, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProvider_UnknownProviderIsDegraded(t *testing.T) {
	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider: "word2vec",
		Model:    "BAAI/bge-small-en-v1.5",
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	require.NotNil(t, p)
	assert.True(t, IsDegraded(p))
	assert.Equal(t, 384, p.Dimension())

	_, err = p.EmbedDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
	_, err = p.EmbedQuery(context.Background(), "x")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestNewProvider_UnreachableEndpointIsDegraded(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := fakeEmbeddingServer(t, 8, &fail)

	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider: "openai",
		Model:    "text-embedding-3-small",
		BaseURL:  srv.URL + "/v1",
		APIKey:   "sk-test",
		Timeout:  5 * time.Second,
	}, nil)

	require.Error(t, err)
	assert.True(t, IsDegraded(p))
	assert.Equal(t, 1536, p.Dimension())
}

func TestNewProvider_OpenAI(t *testing.T) {
	srv := fakeEmbeddingServer(t, 8, nil)

	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider: "openai",
		Model:    "text-embedding-3-small",
		BaseURL:  srv.URL + "/v1",
		APIKey:   "sk-test",
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.False(t, IsDegraded(p))
	assert.Equal(t, 8, p.Dimension(), "dimension is learned from the probe")

	vecs, err := p.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Len(t, v, 8)
		assert.InDelta(t, 1.0, v[i+1], 1e-6, "vector %d must be placed by index and normalised", i)
	}

	q, err := p.EmbedQuery(context.Background(), "dddd")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, q[4], 1e-6)
}

func TestNewProvider_TEI(t *testing.T) {
	srv := fakeEmbeddingServer(t, 16, nil)

	p, err := NewProvider(context.Background(), ProviderConfig{
		Provider: "tei",
		Model:    "intfloat/multilingual-e5-small",
		BaseURL:  srv.URL,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 16, p.Dimension())
	vecs, err := p.EmbedDocuments(context.Background(), []string{"天気", "プロジェクト"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, 16)
	}
}

func TestNewProvider_TEIRequiresBaseURL(t *testing.T) {
	p, err := NewProvider(context.Background(), ProviderConfig{Provider: "tei", Model: "m"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.True(t, IsDegraded(p))
}

func TestInstrumented_RejectsEmptyInput(t *testing.T) {
	p := newInstrumented(&stubBackend{dim: 4}, "stub", 4, zapNop())

	_, err := p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestInstrumented_DimensionMismatch(t *testing.T) {
	p := newInstrumented(&stubBackend{dim: 3}, "stub", 4, zapNop())

	_, err := p.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestInstrumented_CountMismatch(t *testing.T) {
	p := newInstrumented(&stubBackend{dim: 4, short: true}, "stub", 4, zapNop())

	_, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestInstrumented_PropagatesBackendError(t *testing.T) {
	boom := errors.New("boom")
	p := newInstrumented(&stubBackend{dim: 4, err: boom}, "stub", 4, zapNop())

	_, err := p.EmbedDocuments(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
}

func TestDimensionForModel(t *testing.T) {
	assert.Equal(t, 384, dimensionForModel("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 768, dimensionForModel("intfloat/multilingual-e5-base"))
	assert.Equal(t, 1024, dimensionForModel("someone/custom-large"))
	assert.Equal(t, 384, dimensionForModel("unknown"))
}

func TestTEIBaseURL(t *testing.T) {
	assert.Equal(t, "http://tei:8080/v1", teiBaseURL("http://tei:8080"))
	assert.Equal(t, "http://tei:8080/v1", teiBaseURL("http://tei:8080/"))
	assert.Equal(t, "http://tei:8080/v1", teiBaseURL("http://tei:8080/v1"))
}
