// Package pipeline fetches documents from the configured sources, scrubs
// secrets from them and ingests them into the document store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/logging"
	"github.com/fyrsmithlabs/ragdocs/internal/secrets"
	"github.com/fyrsmithlabs/ragdocs/internal/sources"
)

var tracer = otel.Tracer("ragdocs.pipeline")

// Store is the part of the document store the pipeline writes to.
type Store interface {
	Ingest(ctx context.Context, records []docstore.Record) (docstore.IngestResult, error)
	Clear(ctx context.Context) error
	DeleteSource(ctx context.Context, source string) (int, error)
}

// Config parameterizes a run.
type Config struct {
	// PerSourceLimit caps the documents taken from each source. Zero means
	// no cap.
	PerSourceLimit int
	// ContentCharLimit truncates content before scrubbing. The store
	// truncates again with its own limit.
	ContentCharLimit int
	// BatchSize is the number of records handed to each Ingest call.
	BatchSize int
	// ClearBeforeSync empties the collection before the fetched documents
	// are added, replacing the index contents with the current sources.
	ClearBeforeSync bool
	// MinDocuments tops the run up from Fallback when the sources return
	// fewer documents.
	MinDocuments int
	Fallback     sources.DocumentSource
}

// FromSettings builds a Config from the pipeline and store sections.
func FromSettings(p config.PipelineConfig, s config.StoreConfig) Config {
	return Config{
		PerSourceLimit:   p.PerSourceLimit,
		ContentCharLimit: s.ContentCharLimit,
		BatchSize:        s.BatchSize,
		ClearBeforeSync:  p.ClearBeforeSync,
		MinDocuments:     p.MinDocuments,
	}
}

// SourceReport describes one source's part in a run.
type SourceReport struct {
	Name     string `json:"name"`
	Fetched  int    `json:"fetched"`
	Dropped  int    `json:"dropped,omitempty"`
	Redacted int    `json:"redacted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	RunID    string                `json:"run_id"`
	Sources  []SourceReport        `json:"sources"`
	Cleared  bool                  `json:"cleared"`
	Replaced int                   `json:"replaced,omitempty"`
	Result   docstore.IngestResult `json:"result"`
	Duration time.Duration         `json:"duration"`
}

// Failed reports whether any source failed to fetch.
func (r Report) Failed() bool {
	for _, s := range r.Sources {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Pipeline runs syncs against one store.
type Pipeline struct {
	store    Store
	scrubber *secrets.Scrubber
	cfg      Config
	logger   *zap.Logger
}

// New builds a pipeline. A nil scrubber ingests content unscrubbed.
func New(store Store, scrubber *secrets.Scrubber, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &Pipeline{store: store, scrubber: scrubber, cfg: cfg, logger: logger}
}

type fetched struct {
	source  string
	origin  string
	records []docstore.Record
}

// Run fetches every source, then ingests what was fetched.
//
// A source that fails is recorded in the report and the run continues. The
// returned error is non-nil only when the store rejects the run, in which
// case the report still holds what happened up to that point. Cancelling ctx
// stops the run and sets Result.Cancelled.
func (p *Pipeline) Run(ctx context.Context, srcs ...sources.DocumentSource) (Report, error) {
	return p.run(ctx, false, srcs)
}

// Replace is Run, except that the stored documents of each source that was
// fetched successfully are deleted before its records are ingested. Edited
// and removed documents then leave no stale entries behind. A source that
// fails to fetch keeps its stored documents.
func (p *Pipeline) Replace(ctx context.Context, srcs ...sources.DocumentSource) (Report, error) {
	return p.run(ctx, true, srcs)
}

func (p *Pipeline) run(ctx context.Context, replace bool, srcs []sources.DocumentSource) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, report.RunID)
	log := p.logger.With(logging.ContextFields(ctx)...)

	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("sources", len(srcs)),
		attribute.Bool("replace", replace),
	)

	defer func() {
		report.Duration = time.Since(start)
		runDuration.Observe(report.Duration.Seconds())
	}()

	log.Info("sync started", zap.Int("sources", len(srcs)), zap.Bool("replace", replace))

	var (
		batches []fetched
		total   int
	)
	report.Sources = make([]SourceReport, len(srcs))
	for i, src := range srcs {
		report.Sources[i].Name = src.Name()
		records, err := p.fetch(ctx, src, &report.Sources[i], log)
		if ctx.Err() != nil {
			report.Result.Cancelled = true
			runsTotal.WithLabelValues("cancelled").Inc()
			log.Warn("sync cancelled while fetching", zap.String("source", src.Name()))
			return report, nil
		}
		if err != nil {
			continue
		}
		batches = append(batches, fetched{source: src.Name(), origin: src.Origin(), records: records})
		total += len(records)
	}

	// Every source failed: keep the index as it is rather than clearing it
	// or padding it with the fallback corpus.
	if len(batches) == 0 && report.Failed() {
		runsTotal.WithLabelValues("failed").Inc()
		span.SetStatus(codes.Error, "no source could be fetched")
		log.Error("sync fetched nothing, index left unchanged")
		return report, nil
	}

	if p.cfg.MinDocuments > 0 && total < p.cfg.MinDocuments && p.cfg.Fallback != nil {
		log.Info("too few documents fetched, adding fallback corpus",
			zap.Int("fetched", total),
			zap.Int("min_documents", p.cfg.MinDocuments),
		)
		fr := SourceReport{Name: p.cfg.Fallback.Name()}
		if records, err := p.fetch(ctx, p.cfg.Fallback, &fr, log); err == nil {
			batches = append(batches, fetched{source: fr.Name, origin: p.cfg.Fallback.Origin(), records: records})
		}
		report.Sources = append(report.Sources, fr)
	}

	if p.cfg.ClearBeforeSync {
		if err := p.store.Clear(ctx); err != nil {
			runsTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return report, fmt.Errorf("clearing collection: %w", err)
		}
		report.Cleared = true
		log.Info("collection cleared before sync")
	}

	replaced := map[string]bool{}
	for _, b := range batches {
		if replace && !report.Cleared && !replaced[b.origin] {
			replaced[b.origin] = true
			n, err := p.store.DeleteSource(ctx, b.origin)
			if err != nil {
				runsTotal.WithLabelValues("error").Inc()
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return report, fmt.Errorf("replacing %s: %w", b.source, err)
			}
			report.Replaced += n
		}
		for i := 0; i < len(b.records); i += p.cfg.BatchSize {
			end := min(i+p.cfg.BatchSize, len(b.records))
			res, err := p.store.Ingest(ctx, b.records[i:end])
			report.Result.Merge(res)
			if err != nil {
				runsTotal.WithLabelValues("error").Inc()
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				log.Error("sync aborted by store", zap.String("source", b.source), zap.Error(err))
				return report, fmt.Errorf("ingesting %s: %w", b.source, err)
			}
			if res.Cancelled {
				runsTotal.WithLabelValues("cancelled").Inc()
				log.Warn("sync cancelled while ingesting", zap.Int("added", report.Result.Added))
				return report, nil
			}
		}
	}

	result := "success"
	if report.Failed() {
		result = "partial"
	}
	runsTotal.WithLabelValues(result).Inc()
	span.SetAttributes(attribute.Int("added", report.Result.Added), attribute.String("result", result))
	log.Info("sync finished",
		zap.String("result", result),
		zap.Int("added", report.Result.Added),
		zap.Int("skipped", report.Result.Skipped),
		zap.Int("zero_vector", report.Result.ZeroVector),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// fetch pulls one source and prepares its records for ingest.
func (p *Pipeline) fetch(ctx context.Context, src sources.DocumentSource, sr *SourceReport, log *zap.Logger) ([]docstore.Record, error) {
	ctx = logging.WithSource(ctx, src.Name())
	ctx, span := tracer.Start(ctx, "pipeline.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source", src.Name()))

	records, err := src.FetchAll(ctx)
	if err != nil {
		sr.Error = err.Error()
		if !errors.Is(err, context.Canceled) {
			fetchErrors.WithLabelValues(src.Name()).Inc()
			log.Error("fetching source failed", zap.String("source", src.Name()), zap.Error(err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if limit := p.cfg.PerSourceLimit; limit > 0 && len(records) > limit {
		sr.Dropped = len(records) - limit
		records = records[:limit]
	}
	sr.Fetched = len(records)
	fetchedTotal.WithLabelValues(src.Name()).Add(float64(len(records)))

	for i := range records {
		if p.cfg.ContentCharLimit > 0 {
			records[i].Content = docstore.Truncate(records[i].Content, p.cfg.ContentCharLimit)
		}
		scrubbed, n := p.scrubber.Scrub(records[i].Content)
		if n > 0 {
			records[i].Content = scrubbed
			sr.Redacted += n
		}
	}
	if sr.Redacted > 0 {
		redactionsTotal.WithLabelValues(src.Name()).Add(float64(sr.Redacted))
		log.Warn("redacted secrets from fetched documents",
			zap.String("source", src.Name()),
			zap.Int("redactions", sr.Redacted),
		)
	}
	log.Info("fetched source",
		zap.String("source", src.Name()),
		zap.Int("documents", sr.Fetched),
		zap.Int("dropped", sr.Dropped),
	)
	return records, nil
}
