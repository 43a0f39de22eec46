package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
	"github.com/fyrsmithlabs/ragdocs/internal/pipeline"
)

// failedStore behaves like a store that never opened.
type failedStore struct{}

func (failedStore) Search(context.Context, string, int) ([]docstore.ScoredMatch, error) {
	return nil, fmt.Errorf("search: %w", docstore.ErrUninitialized)
}

func (failedStore) Ingest(context.Context, []docstore.Record) (docstore.IngestResult, error) {
	return docstore.IngestResult{}, docstore.ErrUninitialized
}

func (failedStore) Stats(context.Context) docstore.Stats {
	return docstore.Stats{Status: docstore.StatsError}
}

func (failedStore) Health() docstore.Health {
	return docstore.Health{State: docstore.StateFailed}
}

type fakeAnswerer struct {
	err error
}

func (f fakeAnswerer) Analyze(_ context.Context, q string, mode assistant.Mode) (assistant.Analysis, error) {
	if f.err != nil {
		return assistant.Analysis{}, f.err
	}
	return assistant.Analysis{Question: q, Mode: mode, Answer: "42"}, nil
}

func openStore(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open(context.Background(),
		docstore.Config{Path: t.TempDir(), Collection: "http_test"},
		embeddings.NewTestProvider(32), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestServer(t *testing.T, store Store, opts Options) *Server {
	t.Helper()
	s, err := NewServer(store, zaptest.NewLogger(t), &Config{DefaultResults: 3}, opts)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(openStore(t), zap.NewNop(), nil, Options{})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", s.config.Host)
		assert.Equal(t, 8765, s.config.Port)
		assert.Equal(t, 20, s.config.DefaultResults)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(openStore(t), nil, nil, Options{})
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil, Options{})
		assert.ErrorContains(t, err, "store cannot be nil")
	})
}

func TestIngestAndSearch(t *testing.T) {
	s := newTestServer(t, openStore(t), Options{})

	rec := do(t, s, http.MethodPost, "/api/v1/ingest", IngestRequest{Documents: []docstore.Record{
		{Content: "チーム運営のコツ", Source: docstore.SourceNotion, Title: "team", Type: "page"},
		{Content: "release checklist", Source: docstore.SourceFiles, Title: "release", Type: "file"},
		{Content: "   ", Source: docstore.SourceFiles, Title: "blank", Type: "file"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[docstore.IngestResult](t, rec)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Skipped)

	rec = do(t, s, http.MethodPost, "/api/v1/search", SearchRequest{Query: "チーム"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SearchResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	for _, m := range resp.Matches {
		assert.True(t, m.Ranked)
		require.NotNil(t, m.Similarity)
		assert.InDelta(t, 1-m.Distance, *m.Similarity, 1e-9)
	}
	assert.Equal(t, "team", resp.Matches[0].Metadata.Title)

	rec = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[docstore.Stats](t, rec)
	assert.Equal(t, docstore.Stats{TotalDocuments: 2, Status: docstore.StatsSuccess}, stats)
}

func TestSearch_Limits(t *testing.T) {
	store := openStore(t)
	var docs []docstore.Record
	for i := 0; i < 5; i++ {
		docs = append(docs, docstore.Record{Content: fmt.Sprintf("note %d", i), Source: docstore.SourceTestData})
	}
	_, err := store.Ingest(context.Background(), docs)
	require.NoError(t, err)
	s := newTestServer(t, store, Options{})

	rec := do(t, s, http.MethodPost, "/api/v1/search", SearchRequest{Query: "note"})
	assert.Equal(t, 3, decode[SearchResponse](t, rec).Count)

	zero := 0
	rec = do(t, s, http.MethodPost, "/api/v1/search", SearchRequest{Query: "note", Limit: &zero})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SearchResponse](t, rec)
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Matches)

	rec = do(t, s, http.MethodPost, "/api/v1/search", SearchRequest{Query: " "})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[SearchResponse](t, rec)
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Matches)
}

func TestStoreUnavailable(t *testing.T) {
	s := newTestServer(t, failedStore{}, Options{Answerer: fakeAnswerer{err: docstore.ErrUninitialized}})

	rec := do(t, s, http.MethodPost, "/api/v1/search", SearchRequest{Query: "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unavailable", decode[ErrorResponse](t, rec).Error)

	rec = do(t, s, http.MethodPost, "/api/v1/ingest", IngestRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/ask", AskRequest{Question: "q"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"FAILED"`)

	rec = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, docstore.StatsError, decode[docstore.Stats](t, rec).Status)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, openStore(t), Options{})
	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "READY_WITH_EMBEDDINGS", body["state"])
	assert.Equal(t, true, body["embeddings_available"])
}

func TestAsk(t *testing.T) {
	s := newTestServer(t, openStore(t), Options{Answerer: fakeAnswerer{}})

	rec := do(t, s, http.MethodPost, "/api/v1/ask", AskRequest{Question: "why?", Mode: "insights"})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[assistant.Analysis](t, rec)
	assert.Equal(t, assistant.ModeInsights, got.Mode)
	assert.Equal(t, "42", got.Answer)

	rec = do(t, s, http.MethodPost, "/api/v1/ask", AskRequest{Question: "why?", Mode: "limerick"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s = newTestServer(t, openStore(t), Options{Answerer: fakeAnswerer{err: fmt.Errorf("%w: quota", assistant.ErrGenerationFailed)}})
	rec = do(t, s, http.MethodPost, "/api/v1/ask", AskRequest{Question: "why?"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	s = newTestServer(t, openStore(t), Options{})
	rec = do(t, s, http.MethodPost, "/api/v1/ask", AskRequest{Question: "why?"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSync(t *testing.T) {
	var gotNames []string
	sync := func(_ context.Context, names []string) (pipeline.Report, error) {
		gotNames = names
		return pipeline.Report{RunID: "run-1", Sources: []pipeline.SourceReport{{Name: "testdata", Fetched: 8}}}, nil
	}
	s := newTestServer(t, openStore(t), Options{Sync: sync})

	rec := do(t, s, http.MethodPost, "/api/v1/sync", SyncRequest{Sources: []string{"testdata"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"testdata"}, gotNames)
	assert.Equal(t, "run-1", decode[pipeline.Report](t, rec).RunID)

	failing := func(context.Context, []string) (pipeline.Report, error) {
		return pipeline.Report{RunID: "run-2"}, errors.New("write failed")
	}
	s = newTestServer(t, openStore(t), Options{Sync: failing})
	rec = do(t, s, http.MethodPost, "/api/v1/sync", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "run-2", decode[SyncFailure](t, rec).Report.RunID)

	s = newTestServer(t, openStore(t), Options{})
	rec = do(t, s, http.MethodPost, "/api/v1/sync", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestSync_RejectsConcurrentRuns(t *testing.T) {
	s := newTestServer(t, openStore(t), Options{Sync: func(context.Context, []string) (pipeline.Report, error) {
		return pipeline.Report{}, nil
	}})
	s.syncing.Store(true)
	rec := do(t, s, http.MethodPost, "/api/v1/sync", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request id", func(t *testing.T) {
		s := newTestServer(t, openStore(t), Options{})
		rec := do(t, s, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		s := newTestServer(t, openStore(t), Options{})
		s.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})
		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() {
			rec = do(t, s, http.MethodGet, "/panic", nil)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown route uses error shape", func(t *testing.T) {
		s := newTestServer(t, openStore(t), Options{})
		rec := do(t, s, http.MethodGet, "/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
	})

	t.Run("body limit", func(t *testing.T) {
		st := openStore(t)
		s, err := NewServer(st, zap.NewNop(), &Config{BodyLimit: "1K"}, Options{})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(strings.Repeat("x", 4096)))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, openStore(t), Options{})
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ragdocs_docstore")
}
