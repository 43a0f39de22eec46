package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
	"github.com/fyrsmithlabs/ragdocs/internal/logging"
	"github.com/fyrsmithlabs/ragdocs/internal/secrets"
	"github.com/fyrsmithlabs/ragdocs/internal/sources"
)

type staticSource struct {
	name    string
	records []docstore.Record
	err     error
}

func (s *staticSource) Name() string { return s.name }

// Origin matches docs, which stamps records with the source name.
func (s *staticSource) Origin() string { return s.name }

func (s *staticSource) FetchAll(ctx context.Context) ([]docstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]docstore.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func docs(source string, n int) []docstore.Record {
	out := make([]docstore.Record, n)
	for i := range out {
		out[i] = docstore.Record{
			Content: fmt.Sprintf("%s document %d", source, i),
			Source:  source,
			Title:   fmt.Sprintf("%s %d", source, i),
			Type:    "page",
		}
	}
	return out
}

// recordingStore captures what the pipeline hands to the store.
type recordingStore struct {
	calls     [][]docstore.Record
	cleared   int
	clearErr  error
	ingestErr error
	deleted   []string
}

func (r *recordingStore) Ingest(_ context.Context, records []docstore.Record) (docstore.IngestResult, error) {
	if r.ingestErr != nil {
		return docstore.IngestResult{}, r.ingestErr
	}
	r.calls = append(r.calls, records)
	return docstore.IngestResult{Added: len(records)}, nil
}

func (r *recordingStore) Clear(context.Context) error {
	r.cleared++
	return r.clearErr
}

func (r *recordingStore) DeleteSource(_ context.Context, source string) (int, error) {
	r.deleted = append(r.deleted, source)
	return 0, nil
}

func (r *recordingStore) all() []docstore.Record {
	var out []docstore.Record
	for _, c := range r.calls {
		out = append(out, c...)
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	store, err := docstore.Open(context.Background(),
		docstore.Config{Path: t.TempDir(), Collection: "sync_test"},
		embeddings.NewTestProvider(32), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	p := New(store, nil, Config{BatchSize: 4}, zaptest.NewLogger(t))
	report, err := p.Run(context.Background(), sources.NewTestData())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, "testdata", report.Sources[0].Name)
	assert.Equal(t, report.Sources[0].Fetched, report.Result.Added)
	assert.Equal(t, report.Result.Added, store.Stats(context.Background()).TotalDocuments)

	matches, err := store.Search(context.Background(), "会議", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestRun_SourceFailureDoesNotAbort(t *testing.T) {
	store := &recordingStore{}
	p := New(store, nil, Config{BatchSize: 2}, nil)

	report, err := p.Run(context.Background(),
		&staticSource{name: "notion", err: errors.New("401 unauthorized")},
		&staticSource{name: "files", records: docs("files", 3)},
	)
	require.NoError(t, err)

	assert.True(t, report.Failed())
	assert.Equal(t, "401 unauthorized", report.Sources[0].Error)
	assert.Equal(t, 3, report.Sources[1].Fetched)
	assert.Equal(t, 3, report.Result.Added)
	require.Len(t, store.calls, 2)
	assert.Len(t, store.calls[0], 2)
	assert.Len(t, store.calls[1], 1)
}

func TestRun_PerSourceLimit(t *testing.T) {
	store := &recordingStore{}
	p := New(store, nil, Config{PerSourceLimit: 2}, nil)

	report, err := p.Run(context.Background(), &staticSource{name: "gdrive", records: docs("gdrive", 5)})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sources[0].Fetched)
	assert.Equal(t, 3, report.Sources[0].Dropped)
	assert.Len(t, store.all(), 2)
}

func TestRun_ScrubsAndTruncates(t *testing.T) {
	scrubber, err := secrets.New(secrets.Config{Enabled: true}, nil)
	require.NoError(t, err)

	secret := "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"
	store := &recordingStore{}
	p := New(store, scrubber, Config{ContentCharLimit: 200}, nil)

	report, err := p.Run(context.Background(), &staticSource{name: "notion", records: []docstore.Record{
		{Content: `const apiKey = "` + secret + `"`, Source: docstore.SourceNotion, Title: "leak"},
		{Content: "あ" + strings.Repeat("x", 300), Source: docstore.SourceNotion, Title: "long"},
	}})
	require.NoError(t, err)

	got := store.all()
	require.Len(t, got, 2)
	assert.NotContains(t, got[0].Content, secret)
	assert.Contains(t, got[0].Content, "[REDACTED:")
	assert.Positive(t, report.Sources[0].Redacted)
	assert.Equal(t, 200, len([]rune(got[1].Content)))
}

func TestRun_ClearBeforeSync(t *testing.T) {
	store := &recordingStore{}
	p := New(store, nil, Config{ClearBeforeSync: true}, nil)

	report, err := p.Run(context.Background(), &staticSource{name: "files", records: docs("files", 1)})
	require.NoError(t, err)
	assert.True(t, report.Cleared)
	assert.Equal(t, 1, store.cleared)

	store.clearErr = errors.New("disk full")
	_, err = p.Run(context.Background(), &staticSource{name: "files", records: docs("files", 1)})
	require.Error(t, err)
	assert.Len(t, store.all(), 1)
}

func TestRun_ClearSkippedWhenEverySourceFails(t *testing.T) {
	store := &recordingStore{}
	tl := logging.NewTestLogger()
	p := New(store, nil, Config{ClearBeforeSync: true, MinDocuments: 5, Fallback: sources.NewTestData()}, tl.Underlying())

	report, err := p.Run(context.Background(),
		&staticSource{name: "notion", err: errors.New("503 service unavailable")},
		&staticSource{name: "gdrive", err: errors.New("dial tcp: timeout")},
	)
	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.False(t, report.Cleared)
	assert.Zero(t, store.cleared)
	assert.Empty(t, store.calls)
	assert.Len(t, report.Sources, 2, "no fallback corpus")
	tl.AssertLogged(t, zapcore.ErrorLevel, "sync fetched nothing, index left unchanged")
}

func TestRun_FallbackCorpus(t *testing.T) {
	store := &recordingStore{}
	p := New(store, nil, Config{MinDocuments: 5, Fallback: sources.NewTestData()}, nil)

	report, err := p.Run(context.Background(), &staticSource{name: "files", records: docs("files", 1)})
	require.NoError(t, err)
	require.Len(t, report.Sources, 2)
	assert.Equal(t, "testdata", report.Sources[1].Name)
	assert.Greater(t, len(store.all()), 5)

	// Enough documents: no fallback.
	store = &recordingStore{}
	p = New(store, nil, Config{MinDocuments: 2, Fallback: sources.NewTestData()}, nil)
	report, err = p.Run(context.Background(), &staticSource{name: "files", records: docs("files", 2)})
	require.NoError(t, err)
	assert.Len(t, report.Sources, 1)
}

func TestRun_StoreUnavailable(t *testing.T) {
	store := &recordingStore{ingestErr: fmt.Errorf("search: %w", docstore.ErrUninitialized)}
	p := New(store, nil, Config{}, nil)

	_, err := p.Run(context.Background(), &staticSource{name: "files", records: docs("files", 1)})
	assert.ErrorIs(t, err, docstore.ErrUninitialized)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &recordingStore{}
	report, err := New(store, nil, Config{}, nil).Run(ctx, &staticSource{name: "files", records: docs("files", 1)})
	require.NoError(t, err)
	assert.True(t, report.Result.Cancelled)
	assert.Empty(t, store.calls)
}

func TestReplace_EditedFileLeavesNoStaleEntries(t *testing.T) {
	ctx := context.Background()
	store, err := docstore.Open(ctx,
		docstore.Config{Path: t.TempDir(), Collection: "replace_test"},
		embeddings.NewTestProvider(32), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(a, []byte("expense reports are due monthly"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("standup at ten"), 0o600))
	files, err := sources.NewFiles(config.FilesConfig{Enabled: true, Dir: dir, Extensions: []string{".md"}}, nil)
	require.NoError(t, err)

	// Unrelated documents from another source survive the replace.
	_, err = store.Ingest(ctx, []docstore.Record{{Content: "notion roadmap", Source: docstore.SourceNotion}})
	require.NoError(t, err)

	p := New(store, nil, Config{}, zaptest.NewLogger(t))
	_, err = p.Replace(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Stats(ctx).TotalDocuments)

	require.NoError(t, os.WriteFile(a, []byte("expense reports are due weekly"), 0o600))
	report, err := p.Replace(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replaced)
	assert.Equal(t, 2, report.Result.Added)
	assert.Equal(t, 3, store.Stats(ctx).TotalDocuments)

	matches, err := store.Search(ctx, "monthly", 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotContains(t, m.Content, "monthly")
	}
}

func TestReplace_FailedSourceKeepsDocuments(t *testing.T) {
	store := &recordingStore{}
	p := New(store, nil, Config{}, nil)

	report, err := p.Replace(context.Background(),
		&staticSource{name: "notion", err: errors.New("401 unauthorized")},
		&staticSource{name: "files", records: docs("files", 2)},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"files"}, store.deleted)
	assert.Len(t, store.all(), 2)
	assert.True(t, report.Failed())
}
