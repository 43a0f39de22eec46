// Package docstore owns the document index: it embeds records, keeps them in
// a chromem-go collection and answers vector or keyword searches.
//
// Open walks a fallback chain. A persistent collection is preferred; if it
// cannot be opened the store runs from memory, and if that fails too the
// store is FAILED and every call returns ErrUninitialized. Independently, a
// degraded embedding provider or a collection built by another model limits
// search to case-insensitive keyword matching.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
)

var tracer = otel.Tracer("ragdocs.docstore")

// Swapped in tests.
var (
	timeNow          = time.Now
	openPersistentDB = openResilientDB
	openMemoryDB     = func() (*chromem.DB, error) { return chromem.NewDB(), nil }
)

// Metadata keys of stored entries.
const (
	metaSource   = "source"
	metaTitle    = "title"
	metaType     = "type"
	metaSeq      = "seq"
	metaEmbedded = "embedded"
	metaHash     = "content_hash"
)

// Store is the document store. It is safe for concurrent use; writes are
// serialised.
type Store struct {
	cfg          Config
	provider     embeddings.Provider
	ownsProvider bool
	logger       *zap.Logger

	mu         sync.RWMutex
	state      State
	db         *chromem.DB
	coll       *chromem.Collection
	dir        string
	persistent bool
	// vectors is false when query embeddings cannot be compared with the
	// stored ones.
	vectors  bool
	dim      int
	openedAt time.Time

	writeMu sync.Mutex
	seq     int
	hashes  map[string]struct{}
}

// Open opens the collection described by cfg.
//
// A store that ends up FAILED is still returned, together with an error
// wrapping ErrUninitialized, so callers can keep reporting its state.
func Open(ctx context.Context, cfg Config, provider embeddings.Provider, logger *zap.Logger) (*Store, error) {
	ctx, span := tracer.Start(ctx, "docstore.Open")
	defer span.End()

	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidConfig)
	}
	if provider.Dimension() <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	s := &Store{
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		state:    StateUninitialized,
		dim:      provider.Dimension(),
		openedAt: timeNow(),
	}
	span.SetAttributes(
		attribute.String("collection", cfg.Collection),
		attribute.Bool("ephemeral", cfg.Ephemeral),
	)

	if err := s.open(); err != nil {
		s.setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("document store failed to open", zap.Error(err))
		return s, fmt.Errorf("%w: %v", ErrUninitialized, err)
	}
	s.recover(ctx)

	state := StateReadyEphemeral
	if s.persistent {
		state = StateReadyKeywordOnly
		if s.vectors {
			state = StateReadyWithEmbeddings
		}
	}
	s.setState(state)
	span.SetAttributes(attribute.String("state", state.String()))

	logger.Info("document store opened",
		zap.String("state", state.String()),
		zap.String("collection", cfg.Collection),
		zap.String("path", s.dir),
		zap.Bool("vector_search", s.vectors),
		zap.Int("documents", s.coll.Count()),
	)
	return s, nil
}

// OpenWithProvider builds the embedding provider from pcfg and opens the
// store. A provider that fails to load is kept in degraded form; the store
// then opens keyword-only. The store closes the provider on Close.
func OpenWithProvider(ctx context.Context, cfg Config, pcfg embeddings.ProviderConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider, err := embeddings.NewProvider(ctx, pcfg, logger)
	if err != nil {
		logger.Warn("embedding provider degraded, search will be keyword-only", zap.Error(err))
	}
	s, err := Open(ctx, cfg, provider, logger)
	if s == nil {
		_ = provider.Close()
		return nil, err
	}
	s.ownsProvider = true
	return s, err
}

func (s *Store) open() error {
	var persistErr error
	if !s.cfg.Ephemeral {
		if persistErr = s.openPersistent(); persistErr == nil {
			return nil
		}
		s.logger.Error("persistent store unavailable, serving from memory",
			zap.String("path", s.cfg.Path),
			zap.Error(persistErr),
		)
	}

	db, err := openMemoryDB()
	var coll *chromem.Collection
	if err == nil {
		coll, err = db.GetOrCreateCollection(s.cfg.Collection, nil, precomputedOnly)
	}
	if err != nil {
		return errors.Join(persistErr, fmt.Errorf("opening in-memory store: %w", err))
	}

	s.db, s.coll = db, coll
	s.persistent = false
	s.vectors = !embeddings.IsDegraded(s.provider)
	return nil
}

func (s *Store) openPersistent() error {
	dir, err := expandPath(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	db, err := openPersistentDB(dir, s.cfg.Compress, s.logger)
	if err != nil {
		return fmt.Errorf("opening persistent store: %w", err)
	}
	coll, err := db.GetOrCreateCollection(s.cfg.Collection, nil, precomputedOnly)
	if err != nil {
		return fmt.Errorf("getting collection %s: %w", s.cfg.Collection, err)
	}

	s.db, s.coll, s.dir = db, coll, dir
	s.persistent = true
	s.vectors = !embeddings.IsDegraded(s.provider)

	m, err := readManifest(dir)
	switch {
	case err != nil:
		s.logger.Error("collection manifest unreadable, vector search disabled", zap.Error(err))
		s.vectors = false
	case m == nil:
		s.writeManifest()
	case !m.matches(s.provider.Model(), s.provider.Dimension()):
		s.logger.Error("collection was built with a different embedding model, vector search disabled; clear and re-ingest to switch models",
			zap.String("indexed_model", m.Model),
			zap.Int("indexed_dimension", m.Dimension),
			zap.String("configured_model", s.provider.Model()),
			zap.Int("configured_dimension", s.provider.Dimension()),
		)
		s.vectors = false
		if m.Dimension > 0 {
			s.dim = m.Dimension
		}
	}
	return nil
}

func (s *Store) writeManifest() {
	if !s.persistent {
		return
	}
	err := writeManifest(s.dir, &manifest{
		Collection: s.cfg.Collection,
		Model:      s.provider.Model(),
		Dimension:  s.provider.Dimension(),
		CreatedAt:  timeNow().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to write collection manifest", zap.Error(err))
	}
}

// recover restores the id counter, and the content hashes when dedup is on,
// from the stored entries.
func (s *Store) recover(ctx context.Context) {
	results, err := listAll(ctx, s.coll, s.dim)
	if err != nil {
		s.seq = s.coll.Count()
		s.logger.Warn("failed to scan collection, continuing ids from count", zap.Error(err))
		return
	}
	if s.cfg.DedupByContentHash {
		s.hashes = make(map[string]struct{}, len(results))
	}
	for _, r := range results {
		if seq := seqOf(r.Metadata); seq >= s.seq {
			s.seq = seq + 1
		}
		if s.hashes != nil && r.Metadata[metaHash] != "" {
			s.hashes[r.Metadata[metaHash]] = struct{}{}
		}
	}
}

func (s *Store) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	storeState.Set(float64(st))
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// snapshot returns what a single operation needs, or ErrUninitialized.
func (s *Store) snapshot() (*chromem.Collection, bool, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Ready() || s.coll == nil {
		return nil, false, 0, ErrUninitialized
	}
	return s.coll, s.vectors, s.dim, nil
}

// Health reports the store state for operators.
func (s *Store) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := Health{
		State:               s.state,
		Persistent:          s.persistent,
		EmbeddingsAvailable: s.vectors,
		Model:               s.provider.Model(),
		Dimension:           s.dim,
		OpenedAt:            s.openedAt,
	}
	if s.state.Ready() && s.coll != nil {
		h.Documents = s.coll.Count()
	}
	return h
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

// Clear deletes every entry and recreates the collection. It also resets the
// id counter and rewrites the manifest for the configured model, which lifts
// a model-mismatch restriction.
func (s *Store) Clear(ctx context.Context) error {
	_, span := tracer.Start(ctx, "docstore.Clear")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Ready() {
		return ErrUninitialized
	}

	if err := s.db.DeleteCollection(s.cfg.Collection); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting collection: %w", err)
	}
	coll, err := s.db.GetOrCreateCollection(s.cfg.Collection, nil, precomputedOnly)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("recreating collection: %w", err)
	}
	s.coll = coll
	s.seq = 0
	if s.hashes != nil {
		s.hashes = make(map[string]struct{})
	}
	s.dim = s.provider.Dimension()
	s.vectors = !embeddings.IsDegraded(s.provider)
	s.writeManifest()
	if s.persistent {
		s.state = StateReadyKeywordOnly
		if s.vectors {
			s.state = StateReadyWithEmbeddings
		}
		storeState.Set(float64(s.state))
	}
	documentsGauge.Set(0)

	s.logger.Info("collection cleared", zap.String("collection", s.cfg.Collection))
	return nil
}

// DeleteSource removes every entry whose source is source and returns how
// many were removed. The id counter keeps running.
func (s *Store) DeleteSource(ctx context.Context, source string) (int, error) {
	ctx, span := tracer.Start(ctx, "docstore.DeleteSource")
	defer span.End()
	span.SetAttributes(attribute.String("source", source))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	coll, _, dim, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	results, err := listAll(ctx, coll, dim)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("listing %s: %w", s.cfg.Collection, err)
	}

	var ids []string
	kept := make(map[string]struct{}, len(results))
	for _, r := range results {
		if r.Metadata[metaSource] == source {
			ids = append(ids, r.ID)
			continue
		}
		kept[r.Metadata[metaHash]] = struct{}{}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if s.hashes != nil {
		s.hashes = kept
	}
	documentsGauge.Set(float64(coll.Count()))
	span.SetAttributes(attribute.Int("deleted", len(ids)))
	s.logger.Info("deleted source entries", zap.String("source", source), zap.Int("deleted", len(ids)))
	return len(ids), nil
}

// Export writes the collection to a single gob file.
func (s *Store) Export(ctx context.Context, path string, compress bool) error {
	_, span := tracer.Start(ctx, "docstore.Export")
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Ready() {
		return ErrUninitialized
	}
	if err := s.db.ExportToFile(path, compress, "", s.cfg.Collection); err != nil {
		span.RecordError(err)
		return fmt.Errorf("exporting collection: %w", err)
	}
	return nil
}

// Close releases the store. Later calls return ErrUninitialized.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.state = StateUninitialized
	s.db, s.coll = nil, nil
	s.mu.Unlock()
	storeState.Set(float64(StateUninitialized))

	if s.ownsProvider {
		return s.provider.Close()
	}
	return nil
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings are computed before they reach the collection")
}

// placeholder is stored for entries without an embedding. chromem rejects
// zero vectors, so a unit vector is used and the entry is flagged instead.
func placeholder(dim int) []float32 {
	v := make([]float32, dim)
	v[0] = 1
	return v
}

// listAll returns every entry of coll. chromem has no scan API; a query for
// all results does the job.
func listAll(ctx context.Context, coll *chromem.Collection, dim int) ([]chromem.Result, error) {
	n := coll.Count()
	if n == 0 {
		return nil, nil
	}
	return coll.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: placeholder(dim),
		NResults:       n,
	})
}

func seqOf(meta map[string]string) int {
	n, err := strconv.Atoi(meta[metaSeq])
	if err != nil {
		return -1
	}
	return n
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
