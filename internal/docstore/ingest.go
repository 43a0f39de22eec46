package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// pending is a record that survived truncation and dedup.
type pending struct {
	Record
	hash string
}

// Ingest embeds and stores records in BatchSize batches, writing each batch
// before embedding the next.
//
// Blank records are skipped. A batch whose embedding call fails is stored
// unembedded and counted in ZeroVector. Cancelling ctx stops between batches
// and returns the partial result with Cancelled set. Errors are returned only
// when the store is unusable or a write fails.
func (s *Store) Ingest(ctx context.Context, records []Record) (IngestResult, error) {
	ctx, span := tracer.Start(ctx, "docstore.Ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	var res IngestResult
	if _, _, _, err := s.snapshot(); err != nil {
		return res, err
	}
	if len(records) == 0 {
		return res, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Re-read under the write lock; Clear may have swapped the collection.
	coll, vectors, dim, err := s.snapshot()
	if err != nil {
		return res, err
	}

	batch := s.prepare(records, &res)
	for start := 0; start < len(batch); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		end := min(start+s.cfg.BatchSize, len(batch))
		added, unembedded, err := s.writeBatch(ctx, coll, batch[start:end], vectors, dim)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Cancelled = true
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}
		res.Added += added
		res.ZeroVector += unembedded
	}

	documentsGauge.Set(float64(coll.Count()))
	span.SetAttributes(
		attribute.Int("added", res.Added),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("zero_vector", res.ZeroVector),
		attribute.Bool("cancelled", res.Cancelled),
	)
	s.logger.Info("ingest finished",
		zap.Int("added", res.Added),
		zap.Int("skipped", res.Skipped),
		zap.Int("zero_vector", res.ZeroVector),
		zap.Int("deduplicated", res.Deduplicated),
		zap.Bool("cancelled", res.Cancelled),
	)
	return res, nil
}

// prepare truncates, drops blank records and applies the dedup policy.
func (s *Store) prepare(records []Record, res *IngestResult) []pending {
	out := make([]pending, 0, len(records))
	var seen map[string]struct{}
	if s.cfg.DedupByContentHash {
		seen = make(map[string]struct{})
	}
	for _, r := range records {
		r.Content = Truncate(r.Content, s.cfg.ContentCharLimit)
		if strings.TrimSpace(r.Content) == "" {
			res.Skipped++
			skippedTotal.WithLabelValues("blank").Inc()
			continue
		}
		h := contentHash(r.Content)
		if seen != nil {
			_, indexed := s.hashes[h]
			_, inRun := seen[h]
			if indexed || inRun {
				res.Deduplicated++
				skippedTotal.WithLabelValues("duplicate").Inc()
				continue
			}
			seen[h] = struct{}{}
		}
		out = append(out, pending{Record: r, hash: h})
	}
	return out
}

// writeBatch embeds and writes one batch. A context error means nothing was
// written.
func (s *Store) writeBatch(ctx context.Context, coll *chromem.Collection, batch []pending, vectors bool, dim int) (added, unembedded int, err error) {
	var vecs [][]float32
	if vectors {
		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Content
		}
		vecs, err = s.embed(ctx, texts, dim)
		if err != nil {
			if ctx.Err() != nil {
				return 0, 0, ctx.Err()
			}
			failedBatches.Inc()
			s.logger.Warn("embedding batch failed, storing entries unembedded",
				zap.Int("batch_size", len(batch)),
				zap.Int("first_seq", s.seq),
				zap.Error(err),
			)
			vecs = nil
		}
	}

	docs := make([]chromem.Document, len(batch))
	for i, p := range batch {
		seq := s.seq + i
		embedded := vecs != nil
		vec := placeholder(dim)
		if embedded {
			vec = vecs[i]
		}
		docs[i] = chromem.Document{
			ID:        docID(seq, p.hash),
			Content:   p.Content,
			Embedding: vec,
			Metadata: map[string]string{
				metaSource:   p.Source,
				metaTitle:    p.Title,
				metaType:     p.Type,
				metaSeq:      strconv.Itoa(seq),
				metaEmbedded: strconv.FormatBool(embedded),
				metaHash:     p.hash,
			},
		}
	}

	// A batch that was embedded is written even if ctx is cancelled now.
	if err := coll.AddDocuments(context.WithoutCancel(ctx), docs, 1); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.seq += len(batch)
	if s.hashes != nil {
		for _, p := range batch {
			s.hashes[p.hash] = struct{}{}
		}
	}

	label := strconv.FormatBool(vecs != nil)
	ingestedTotal.WithLabelValues(label).Add(float64(len(batch)))
	if vecs == nil && vectors {
		unembedded = len(batch)
	}
	return len(batch), unembedded, nil
}

// embed runs one provider call under EmbedTimeout and checks the output
// shape against the collection dimension.
func (s *Store) embed(ctx context.Context, texts []string, dim int) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()

	vecs, err := s.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, collection uses %d", i, len(v), dim)
		}
	}
	return vecs, nil
}

// Reembed embeds entries that were stored without a vector, for example
// while the model was unavailable. It returns the number of entries fixed.
func (s *Store) Reembed(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "docstore.Reembed")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	coll, vectors, dim, err := s.snapshot()
	if err != nil {
		return 0, err
	}
	if !vectors {
		return 0, fmt.Errorf("%w: vector search is disabled for this collection", ErrModelUnavailable)
	}

	all, err := listAll(ctx, coll, dim)
	if err != nil {
		return 0, fmt.Errorf("listing entries: %w", err)
	}
	var todo []chromem.Result
	for _, r := range all {
		if r.Metadata[metaEmbedded] == "false" {
			todo = append(todo, r)
		}
	}
	slices.SortFunc(todo, func(a, b chromem.Result) int { return seqOf(a.Metadata) - seqOf(b.Metadata) })

	fixed := 0
	for start := 0; start < len(todo); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			return fixed, ctx.Err()
		}
		batch := todo[start:min(start+s.cfg.BatchSize, len(todo))]
		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Content
		}
		vecs, err := s.embed(ctx, texts, dim)
		if err != nil {
			if ctx.Err() != nil {
				return fixed, ctx.Err()
			}
			s.logger.Warn("re-embedding batch failed", zap.Int("batch_size", len(batch)), zap.Error(err))
			continue
		}

		docs := make([]chromem.Document, len(batch))
		for i, r := range batch {
			meta := make(map[string]string, len(r.Metadata))
			for k, v := range r.Metadata {
				meta[k] = v
			}
			meta[metaEmbedded] = "true"
			docs[i] = chromem.Document{ID: r.ID, Content: r.Content, Metadata: meta, Embedding: vecs[i]}
		}
		if err := coll.AddDocuments(context.WithoutCancel(ctx), docs, 1); err != nil {
			return fixed, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		fixed += len(batch)
	}

	span.SetAttributes(attribute.Int("reembedded", fixed))
	s.logger.Info("re-embedded entries", zap.Int("count", fixed), zap.Int("pending", len(todo)-fixed))
	return fixed, nil
}

// Truncate cuts s to at most limit runes. Multi-byte characters are never
// split.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// docID is deterministic in the running counter and the content, so the
// same content at the same position always gets the same id.
func docID(seq int, hash string) string {
	return fmt.Sprintf("doc_%d_%s", seq, hash[:16])
}
