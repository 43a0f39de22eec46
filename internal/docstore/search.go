package docstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Search returns up to limit matches for query.
//
// limit is clamped to MaxResults; a non-positive limit or a blank query
// returns an empty slice. With embeddings available, matches are ordered by
// ascending cosine distance, ties by insertion order. Otherwise, or when the
// query cannot be embedded, matches are case-insensitive substring hits in
// insertion order with Distance set to Unranked.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]ScoredMatch, error) {
	ctx, span := tracer.Start(ctx, "docstore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	coll, vectors, dim, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []ScoredMatch{}, nil
	}
	limit = min(limit, s.cfg.MaxResults)

	start := timeNow()
	mode := "keyword"
	var matches []ScoredMatch
	if vectors {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		vec, embedErr := s.provider.EmbedQuery(qctx, query)
		if embedErr == nil {
			mode = "vector"
			matches, err = vectorSearch(qctx, coll, vec, limit)
		}
		cancel()
		if embedErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("query embedding failed, using keyword search", zap.Error(embedErr))
		}
	}
	if mode == "keyword" {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		matches, err = keywordSearch(qctx, coll, dim, query, limit)
		cancel()
	}
	searchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.String("mode", mode))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching %s: %w", s.cfg.Collection, err)
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

func vectorSearch(ctx context.Context, coll *chromem.Collection, vec []float32, limit int) ([]ScoredMatch, error) {
	n := coll.Count()
	if n == 0 {
		return []ScoredMatch{}, nil
	}
	// Every entry is ranked so unembedded ones and ties sort consistently.
	results, err := coll.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vec,
		NResults:       n,
	})
	if err != nil {
		return nil, err
	}

	type ranked struct {
		match ScoredMatch
		seq   int
	}
	all := make([]ranked, len(results))
	for i, r := range results {
		// float32 dot products of unit vectors can land just outside [-1, 1].
		d := min(max(1-float64(r.Similarity), 0), 2)
		if r.Metadata[metaEmbedded] == "false" {
			d = 1
		}
		all[i] = ranked{match: toMatch(r, d), seq: seqOf(r.Metadata)}
	}
	slices.SortStableFunc(all, func(a, b ranked) int {
		if c := cmp.Compare(a.match.Distance, b.match.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]ScoredMatch, 0, min(limit, len(all)))
	for _, r := range all[:min(limit, len(all))] {
		out = append(out, r.match)
	}
	return out, nil
}

func keywordSearch(ctx context.Context, coll *chromem.Collection, dim int, query string, limit int) ([]ScoredMatch, error) {
	results, err := listAll(ctx, coll, dim)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(results, func(a, b chromem.Result) int {
		return cmp.Compare(seqOf(a.Metadata), seqOf(b.Metadata))
	})

	needle := strings.ToLower(query)
	out := []ScoredMatch{}
	for _, r := range results {
		if len(out) == limit {
			break
		}
		if strings.Contains(strings.ToLower(r.Content), needle) {
			out = append(out, toMatch(r, Unranked))
		}
	}
	return out, nil
}

func toMatch(r chromem.Result, distance float64) ScoredMatch {
	return ScoredMatch{
		ID:      r.ID,
		Content: r.Content,
		Metadata: Metadata{
			Source: r.Metadata[metaSource],
			Title:  r.Metadata[metaTitle],
			Type:   r.Metadata[metaType],
		},
		Distance: distance,
	}
}

// Stats reports the number of stored entries. It never fails: an unusable
// store reports StatsError with zero documents.
func (s *Store) Stats(ctx context.Context) (st Stats) {
	_, span := tracer.Start(ctx, "docstore.Stats")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stats failed", zap.Any("panic", r))
			st = Stats{Status: StatsError}
		}
	}()

	coll, _, _, err := s.snapshot()
	if err != nil {
		return Stats{Status: StatsError}
	}
	n := coll.Count()
	documentsGauge.Set(float64(n))
	if n == 0 {
		return Stats{Status: StatsEmpty}
	}
	return Stats{TotalDocuments: n, Status: StatsSuccess}
}
