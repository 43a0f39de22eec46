package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
)

func TestHandle_ConcurrentGetOpensOnce(t *testing.T) {
	cfg := testConfig(t)
	var opens atomic.Int32
	h := NewHandle(func(ctx context.Context) (*Store, error) {
		opens.Add(1)
		return Open(ctx, cfg, embeddings.NewTestProvider(16), nil)
	})
	t.Cleanup(func() { _ = h.Close() })

	const callers = 32
	stores := make([]*Store, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.Get(context.Background())
			assert.NoError(t, err)
			stores[i] = s
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, opens.Load())
	for _, s := range stores {
		assert.Same(t, stores[0], s)
	}
}

func TestHandle_FailureIsSticky(t *testing.T) {
	boom := errors.New("boom")
	var opens atomic.Int32
	h := NewHandle(func(context.Context) (*Store, error) {
		opens.Add(1)
		return nil, boom
	})

	_, err := h.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = h.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, opens.Load())
}

func TestHandle_RetriesAfterContextError(t *testing.T) {
	cfg := testConfig(t)
	var opens atomic.Int32
	h := NewHandle(func(ctx context.Context) (*Store, error) {
		if opens.Add(1) == 1 {
			return nil, context.Canceled
		}
		return Open(ctx, cfg, embeddings.NewTestProvider(16), nil)
	})
	t.Cleanup(func() { _ = h.Close() })

	_, err := h.Get(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	s, err := h.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.EqualValues(t, 2, opens.Load())
}

func TestHandle_Close(t *testing.T) {
	h := NewHandle(func(ctx context.Context) (*Store, error) {
		return Open(ctx, testConfig(t), embeddings.NewTestProvider(16), nil)
	})
	assert.Nil(t, h.Peek())
	require.NoError(t, h.Close(), "closing an unopened handle is a no-op")

	h = NewHandle(func(ctx context.Context) (*Store, error) {
		return Open(ctx, testConfig(t), embeddings.NewTestProvider(16), nil)
	})
	s, err := h.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Close())

	assert.Equal(t, StateUninitialized, s.State())
	_, err = h.Get(context.Background())
	assert.ErrorIs(t, err, ErrUninitialized)
}

func TestOpenWithProvider_DegradedProviderOpensKeywordOnly(t *testing.T) {
	s, err := OpenWithProvider(context.Background(), testConfig(t), embeddings.ProviderConfig{
		Provider: "unknown",
		Model:    "BAAI/bge-small-en-v1.5",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, StateReadyKeywordOnly, s.State())
	assert.Equal(t, 384, s.Health().Dimension)
}
