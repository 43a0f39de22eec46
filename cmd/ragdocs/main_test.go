package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
	"github.com/fyrsmithlabs/ragdocs/internal/pipeline"
	"github.com/fyrsmithlabs/ragdocs/internal/telemetry"
)

// testApp returns an app over a temporary store with a deterministic
// embedding provider.
func testApp(t *testing.T) *app {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	a := &app{cfg: cfg, logger: logger}
	a.handle = docstore.NewHandle(func(ctx context.Context) (*docstore.Store, error) {
		return docstore.Open(ctx, docstore.Config{Path: dir, Collection: "cli_test", DedupByContentHash: true},
			embeddings.NewTestProvider(32), logger)
	})
	t.Cleanup(a.close)
	return a
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"serve", "mcp", "sync", "ingest", "search", "stats", "ask", "clear", "export", "reembed", "version"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "log-level", "env-file"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Version:    dev")
	assert.Contains(t, out.String(), "Commit:")
}

func TestClearCmd_RequiresYes(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"clear"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestSearchCmd_Flags(t *testing.T) {
	cmd := newSearchCmd(&rootOptions{})
	assert.Equal(t, "n", cmd.Flags().Lookup("limit").Shorthand)
	assert.Equal(t, "i", cmd.Flags().Lookup("interactive").Shorthand)
}

func TestProviderConfig(t *testing.T) {
	pc := providerConfig(config.EmbeddingsConfig{
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		BaseURL:   "http://localhost:8080/v1",
		APIKey:    config.Secret("sk-test"),
		Dimension: 1536,
		Timeout:   config.Duration(5 * time.Second),
	})
	assert.Equal(t, "openai", pc.Provider)
	assert.Equal(t, "sk-test", pc.APIKey)
	assert.Equal(t, 1536, pc.Dimension)
	assert.Equal(t, 5*time.Second, pc.Timeout)
}

func TestInitLogger(t *testing.T) {
	for _, stdout := range []bool{true, false} {
		l, err := initLogger(config.LoggingConfig{Level: "debug", Format: "json"}, stdout, nil)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}

	_, err := initLogger(config.LoggingConfig{Level: "loud"}, false, nil)
	assert.Error(t, err)
}

func TestInitLogger_ExportsToLoggerProvider(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	l, err := initLogger(config.LoggingConfig{Level: "info", Format: "json", OTEL: true}, false, tel.LoggerProvider)
	require.NoError(t, err)

	l.Info("sync complete", zap.Int("added", 8))
	l.Debug("below level")

	logs := tel.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "sync complete", logs[0].Body().AsString())
}

func TestIngestAndSearch(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	s, err := a.store(ctx)
	require.NoError(t, err)

	dir := t.TempDir()
	handbook := filepath.Join(dir, "handbook.md")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(handbook, []byte("# Handbook\n\nExpense reports are due monthly."), 0o600))
	require.NoError(t, os.WriteFile(notes, []byte("Standup at 10:00."), 0o600))

	var out bytes.Buffer
	require.NoError(t, runIngest(ctx, a, s, &out, []string{handbook, notes}))
	assert.Contains(t, out.String(), "Added 2 documents")

	out.Reset()
	require.NoError(t, runSearch(ctx, s, &out, "expense reports", 5))
	assert.Contains(t, out.String(), "handbook.md (files/file) similarity")
	assert.Contains(t, out.String(), "notes.txt")
	assert.Contains(t, out.String(), "Expense reports are due monthly.")
}

func TestIngest_MissingFile(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	s, err := a.store(ctx)
	require.NoError(t, err)

	err = runIngest(ctx, a, s, &bytes.Buffer{}, []string{filepath.Join(t.TempDir(), "absent.md")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSearch_NoMatches(t *testing.T) {
	a := testApp(t)
	s, err := a.store(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runSearch(context.Background(), s, &out, "anything", 5))
	assert.Equal(t, "No documents matched.\n", out.String())
}

func TestSync(t *testing.T) {
	a := testApp(t)
	a.cfg.Sources.TestData.Enabled = true
	ctx := context.Background()
	s, err := a.store(ctx)
	require.NoError(t, err)

	sy, err := a.newSyncer(ctx, s)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runSync(ctx, sy, &out, nil, false))
	assert.Contains(t, out.String(), "testdata   fetched 8")
	assert.Contains(t, out.String(), "Added 8 documents")
	assert.Equal(t, 8, s.Stats(ctx).TotalDocuments)

	out.Reset()
	require.NoError(t, runSync(ctx, sy, &out, []string{"testdata"}, false))
	assert.Contains(t, out.String(), "Added 0 documents")
}

func TestSync_Replace(t *testing.T) {
	a := testApp(t)
	a.cfg.Sources.TestData.Enabled = true
	ctx := context.Background()
	s, err := a.store(ctx)
	require.NoError(t, err)

	sy, err := a.newSyncer(ctx, s)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runSync(ctx, sy, &out, nil, false))

	out.Reset()
	require.NoError(t, runSync(ctx, sy, &out, []string{"testdata"}, true))
	assert.Contains(t, out.String(), "Replaced 8 previous entries")
	assert.Contains(t, out.String(), "Added 8 documents")
	assert.Equal(t, 8, s.Stats(ctx).TotalDocuments)
}

func TestSync_SourceNotEnabled(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	s, err := a.store(ctx)
	require.NoError(t, err)

	sy, err := a.newSyncer(ctx, s)
	require.NoError(t, err)

	var out bytes.Buffer
	err = runSync(ctx, sy, &out, []string{"notion"}, false)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Empty(t, out.String())
}

type fakeAnswerer struct {
	analysis assistant.Analysis
	err      error
}

func (f fakeAnswerer) Analyze(context.Context, string, assistant.Mode) (assistant.Analysis, error) {
	return f.analysis, f.err
}

func TestRunAsk(t *testing.T) {
	sim := 0.82
	an := fakeAnswerer{analysis: assistant.Analysis{
		Answer: "Keep standups under fifteen minutes.",
		References: []assistant.Reference{
			{Title: "会議運営の改善方法", Source: "test_data", Similarity: &sim},
			{Title: "notes.txt", Source: "files"},
		},
	}}

	var out bytes.Buffer
	require.NoError(t, runAsk(context.Background(), an, &out, "meetings?", assistant.ModeSummary))
	assert.Contains(t, out.String(), "Keep standups under fifteen minutes.\n")
	assert.Contains(t, out.String(), "  - 会議運営の改善方法 (test_data) similarity 0.820\n")
	assert.Contains(t, out.String(), "  - notes.txt (files)\n")

	err := runAsk(context.Background(), fakeAnswerer{err: assistant.ErrGenerationFailed}, &out, "q", assistant.ModeSummary)
	assert.True(t, errors.Is(err, assistant.ErrGenerationFailed))
}

func TestPrintStats(t *testing.T) {
	var out bytes.Buffer
	printStats(&out,
		docstore.Stats{TotalDocuments: 3, Status: docstore.StatsSuccess},
		docstore.Health{State: docstore.StateReadyKeywordOnly, Persistent: true, Model: "BAAI/bge-small-en-v1.5", Dimension: 384},
	)
	assert.Contains(t, out.String(), "Documents:  3\n")
	assert.Contains(t, out.String(), "State:      READY_KEYWORD_ONLY\n")
	assert.Contains(t, out.String(), "unavailable (keyword search)")
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, pipeline.Report{
		RunID:    "run-1",
		Sources:  []pipeline.SourceReport{{Name: "notion", Fetched: 2, Redacted: 1}, {Name: "gdrive", Error: "rate limited"}},
		Cleared:  true,
		Result:   docstore.IngestResult{Added: 2},
		Duration: 1500 * time.Millisecond,
	})
	assert.Contains(t, out.String(), "Run run-1 (1.5s)")
	assert.Contains(t, out.String(), "notion     fetched 2, redacted 1")
	assert.Contains(t, out.String(), "gdrive     fetched 0, error: rate limited")
	assert.Contains(t, out.String(), "Collection cleared before sync")
}
