package docstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:       t.TempDir(),
		Collection: "test_docs",
	}
}

func openTestStore(t *testing.T, cfg Config, provider embeddings.Provider) *Store {
	t.Helper()
	s, err := Open(context.Background(), cfg, provider, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func records(n int, format string) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			Content: fmt.Sprintf(format, i),
			Source:  SourceTestData,
			Title:   fmt.Sprintf("doc %d", i),
			Type:    "page",
		}
	}
	return out
}

// cancellingProvider cancels the ingest context once the first batch has
// been embedded.
type cancellingProvider struct {
	*embeddings.TestProvider
	cancel context.CancelFunc
}

func (p *cancellingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := p.TestProvider.EmbedDocuments(ctx, texts)
	p.cancel()
	return out, err
}
