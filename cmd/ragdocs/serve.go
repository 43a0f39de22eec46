package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/ragdocs/internal/http"
	mcpserver "github.com/fyrsmithlabs/ragdocs/internal/mcp"
	"github.com/fyrsmithlabs/ragdocs/internal/sources"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve search, ingest, sync and ask endpoints over HTTP.

The server keeps running when the store fails to open; the API then answers
503 so monitoring can tell the process is up but unusable. When the files
source has watch enabled, changes under its directory trigger a sync.

Examples:
  ragdocs serve
  ragdocs serve --host 0.0.0.0 --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return runServe(ctx, a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen address (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	store, err := a.store(ctx)
	if store == nil {
		return err
	}
	if err != nil {
		a.logger.Error("document store unavailable, serving degraded", zap.Error(err))
	}

	var opts httpapi.Options
	if an, err := a.analyzer(store); err != nil {
		a.logger.Warn("assistant disabled", zap.Error(err))
	} else {
		opts.Answerer = an
	}

	sy, err := a.newSyncer(ctx, store)
	if err != nil {
		a.logger.Warn("sync disabled", zap.Error(err))
	} else {
		opts.Sync = sy.Run
		watchFiles(ctx, a, sy)
	}

	srv, err := httpapi.NewServer(store, a.logger.Named("http"), &httpapi.Config{
		Host:            a.cfg.Server.Host,
		Port:            a.cfg.Server.Port,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Duration(),
		DefaultResults:  a.cfg.Store.DefaultResults,
	}, opts)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// watchFiles re-syncs the files source whenever its directory changes,
// replacing the entries of the previous sync.
func watchFiles(ctx context.Context, a *app, sy *syncer) {
	files, ok := sy.registry.Get("files").(*sources.Files)
	if !ok || !files.Watching() {
		return
	}

	go func() {
		err := files.Watch(ctx, func(ctx context.Context) {
			report, err := sy.Replace(ctx, []string{"files"})
			if err != nil {
				a.logger.Error("file sync failed", zap.Error(err))
				return
			}
			a.logger.Info("file sync complete",
				zap.String("run_id", report.RunID),
				zap.Int("added", report.Result.Added),
				zap.Int("replaced", report.Replaced),
			)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("file watch stopped", zap.Error(err))
		}
	}()
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Long: `Serve search_documents, document_stats and ingest_documents as MCP
tools over stdio. analyze_documents is added when an assistant LLM is
configured. Logs go to stderr.

Example MCP client configuration:
  {"command": "ragdocs", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.close()
			return runMCP(ctx, a)
		},
	}
}

func runMCP(ctx context.Context, a *app) error {
	store, err := a.store(ctx)
	if store == nil {
		return err
	}
	if err != nil {
		a.logger.Error("document store unavailable, tools will report it", zap.Error(err))
	}

	var answerer mcpserver.Answerer
	if an, err := a.analyzer(store); err != nil {
		a.logger.Info("analyze_documents disabled", zap.Error(err))
	} else {
		answerer = an
	}

	srv, err := mcpserver.NewServer(&mcpserver.Config{
		Name:       "ragdocs",
		Version:    version,
		Logger:     a.logger.Named("mcp"),
		MaxResults: a.cfg.Store.MaxResults,
	}, store, answerer, a.scrubber)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
