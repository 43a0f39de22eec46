// Package http serves the document store over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/logging"
	"github.com/fyrsmithlabs/ragdocs/internal/pipeline"
)

// Store is the document store surface served by the API.
type Store interface {
	Search(ctx context.Context, query string, limit int) ([]docstore.ScoredMatch, error)
	Ingest(ctx context.Context, records []docstore.Record) (docstore.IngestResult, error)
	Stats(ctx context.Context) docstore.Stats
	Health() docstore.Health
}

// Answerer produces grounded answers.
type Answerer interface {
	Analyze(ctx context.Context, question string, mode assistant.Mode) (assistant.Analysis, error)
}

// SyncFunc runs the ingestion pipeline over the named sources, or all
// enabled sources when names is empty.
type SyncFunc func(ctx context.Context, names []string) (pipeline.Report, error)

// Server provides HTTP endpoints for ragdocs.
type Server struct {
	echo     *echo.Echo
	store    Store
	answerer Answerer
	sync     SyncFunc
	syncing  atomic.Bool
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	// DefaultResults is the search limit when a request omits one.
	DefaultResults int
	// BodyLimit caps request bodies, in echo's size notation.
	BodyLimit string
}

// Options carries the optional collaborators. A nil Answerer or Sync makes
// the corresponding endpoint answer 501.
type Options struct {
	Answerer Answerer
	Sync     SyncFunc
}

// NewServer creates a new HTTP server.
func NewServer(store Store, logger *zap.Logger, cfg *Config, opts Options) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8765}
	}
	if cfg.DefaultResults <= 0 {
		cfg.DefaultResults = 20
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "10M"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(newRequestMetrics(nil, logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if validRequestID.MatchString(requestID) {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))
			}

			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		store:    store,
		answerer: opts.Answerer,
		sync:     opts.Sync,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

// validRequestID matches ids accepted by logging.WithRequestID. Client
// supplied ids that do not match are echoed but not logged as context.
var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)
	v1.POST("/search", s.handleSearch)
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/sync", s.handleSync)
	v1.POST("/ask", s.handleAsk)
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Run serves until ctx is done, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// errorHandler renders echo errors (unknown routes, oversized bodies,
// recovered panics) in the ErrorResponse shape.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := http.StatusText(status)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.Error("unhandled request error", zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, ErrorResponse{Error: msg})
	}
}
