package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/embeddings"
	"github.com/fyrsmithlabs/ragdocs/internal/logging"
	"github.com/fyrsmithlabs/ragdocs/internal/pipeline"
	"github.com/fyrsmithlabs/ragdocs/internal/secrets"
	"github.com/fyrsmithlabs/ragdocs/internal/sources"
	"github.com/fyrsmithlabs/ragdocs/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// app holds what every command needs: configuration, the logger and a lazily
// opened store.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	scrubber  *secrets.Scrubber
	handle    *docstore.Handle
}

// newApp loads configuration and initializes logging and telemetry.
//
// Logs go to stderr unless stdoutLogs is set, so command output on stdout
// stays clean and the MCP stdio transport is never corrupted.
func newApp(ctx context.Context, opts *rootOptions, stdoutLogs bool) (*app, error) {
	cfg, err := config.Load(config.Options{ConfigPath: opts.configPath, EnvFile: opts.envFile})
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger, err := initLogger(cfg.Logging, stdoutLogs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tcfg := telemetry.FromSettings(cfg.Telemetry, version)
	tcfg.LogsEnabled = cfg.Logging.OTEL
	tel, err := telemetry.New(ctx, tcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// The logger exists before telemetry so exporter failures can be
	// reported; rebuild it once the log exporter is up.
	if lp := tel.LoggerProvider(); lp != nil {
		if logger, err = initLogger(cfg.Logging, stdoutLogs, lp); err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	scrubber, err := secrets.New(secrets.Config{
		Enabled:       cfg.Secrets.Enabled,
		AllowlistPath: cfg.Secrets.AllowlistPath,
	}, logger.Named("secrets"))
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize secret scrubber: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		scrubber:  scrubber,
	}
	a.handle = docstore.NewHandle(func(ctx context.Context) (*docstore.Store, error) {
		return docstore.OpenWithProvider(ctx,
			docstore.FromSettings(cfg.Store),
			providerConfig(cfg.Embeddings),
			logger.Named("docstore"),
		)
	})
	return a, nil
}

// initLogger builds the process logger. lp, when set, receives a copy of
// every entry for export.
func initLogger(s config.LoggingConfig, stdout bool, lp log.LoggerProvider) (*zap.Logger, error) {
	cfg, err := logging.FromSettings(s)
	if err != nil {
		return nil, err
	}
	cfg.Output.Stdout = stdout
	cfg.Output.Stderr = !stdout
	l, err := logging.NewLogger(cfg, lp)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}

// providerConfig maps the embeddings section onto the provider factory.
func providerConfig(e config.EmbeddingsConfig) embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  e.Provider,
		Model:     e.Model,
		BaseURL:   e.BaseURL,
		APIKey:    e.APIKey.Value(),
		CacheDir:  e.CacheDir,
		MaxLength: e.MaxLength,
		Dimension: e.Dimension,
		Timeout:   e.Timeout.Duration(),
	}
}

// store opens the store on first use. A store that failed to open is
// returned with its error so servers can keep reporting it as unavailable.
func (a *app) store(ctx context.Context) (*docstore.Store, error) {
	return a.handle.Get(ctx)
}

// analyzer builds the question answering assistant. It fails when no LLM is
// configured.
func (a *app) analyzer(store assistant.Searcher) (*assistant.Analyzer, error) {
	llm, err := assistant.NewLLM(a.cfg.Assistant)
	if err != nil {
		return nil, err
	}
	return assistant.NewAnalyzer(store, llm, assistant.Config{
		TopK:        a.cfg.Assistant.TopK,
		Temperature: a.cfg.Assistant.Temperature,
		MaxTokens:   a.cfg.Assistant.MaxTokens,
	}, a.logger.Named("assistant")), nil
}

// syncer runs the pipeline over the configured sources. Runs are serialized
// so a file watch and an API request never sync at the same time.
type syncer struct {
	mu       sync.Mutex
	pipeline *pipeline.Pipeline
	registry *sources.Registry
}

// newSyncer builds every enabled source. ctx outlives the individual runs:
// the Google Drive token source keeps it for refreshing credentials.
func (a *app) newSyncer(ctx context.Context, store pipeline.Store) (*syncer, error) {
	reg, err := sources.NewRegistry(ctx, a.cfg.Sources, a.cfg.Pipeline.PerSourceLimit, a.logger.Named("sources"))
	if err != nil {
		return nil, err
	}

	cfg := pipeline.FromSettings(a.cfg.Pipeline, a.cfg.Store)
	cfg.Fallback = sources.NewTestData()

	return &syncer{
		pipeline: pipeline.New(store, a.scrubber, cfg, a.logger.Named("pipeline")),
		registry: reg,
	}, nil
}

// Run syncs the named sources, or every enabled source when names is empty.
func (s *syncer) Run(ctx context.Context, names []string) (pipeline.Report, error) {
	return s.do(ctx, names, s.pipeline.Run)
}

// Replace is Run with each synced source's previous entries dropped first.
func (s *syncer) Replace(ctx context.Context, names []string) (pipeline.Report, error) {
	return s.do(ctx, names, s.pipeline.Replace)
}

func (s *syncer) do(ctx context.Context, names []string,
	run func(context.Context, ...sources.DocumentSource) (pipeline.Report, error),
) (pipeline.Report, error) {
	srcs, err := s.registry.Select(names...)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return run(ctx, srcs...)
}

// close releases the store and flushes telemetry and logs.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.handle != nil {
		if err := a.handle.Close(); err != nil && !errors.Is(err, docstore.ErrUninitialized) {
			a.logger.Warn("closing document store", zap.Error(err))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}
