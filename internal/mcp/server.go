package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/secrets"
)

// Store is the document store surface the tools call.
type Store interface {
	Search(ctx context.Context, query string, limit int) ([]docstore.ScoredMatch, error)
	Ingest(ctx context.Context, records []docstore.Record) (docstore.IngestResult, error)
	Stats(ctx context.Context) docstore.Stats
	Health() docstore.Health
}

// Answerer produces grounded answers for analyze_documents.
type Answerer interface {
	Analyze(ctx context.Context, question string, mode assistant.Mode) (assistant.Analysis, error)
}

// Server is an MCP server backed by the document store.
type Server struct {
	mcp      *mcp.Server
	store    Store
	answerer Answerer
	scrubber *secrets.Scrubber
	metrics  *toolMetrics
	logger   *zap.Logger
	config   *Config
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragdocs")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging. It must not write to stdout.
	Logger *zap.Logger

	// DefaultResults is the search limit when a call omits one.
	DefaultResults int

	// MaxResults caps the limit a client may ask for.
	MaxResults int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:           "ragdocs",
		Version:        "dev",
		Logger:         zap.NewNop(),
		DefaultResults: 5,
		MaxResults:     50,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.DefaultResults <= 0 {
		c.DefaultResults = d.DefaultResults
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
}

// NewServer creates an MCP server over store. answerer may be nil, in which
// case analyze_documents is not registered. A nil scrubber disables output
// redaction.
func NewServer(cfg *Config, store Store, answerer Answerer, scrubber *secrets.Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()
	if store == nil {
		return nil, errors.New("store is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:      mcpServer,
		store:    store,
		answerer: answerer,
		scrubber: scrubber,
		metrics:  newToolMetrics(nil, cfg.Logger),
		logger:   cfg.Logger,
		config:   cfg,
	}
	s.registerTools()

	return s, nil
}

// Run serves MCP on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves MCP on t.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("starting MCP server",
		zap.String("name", s.config.Name),
		zap.Bool("analyze", s.answerer != nil),
	)
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
