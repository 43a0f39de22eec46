// Ragdocs indexes company documents into a local vector store and serves
// semantic search over them.
//
// Configuration is loaded from ragdocs.yaml, a .env file and RAGDOCS_*
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Pull documents from the enabled sources
//	ragdocs sync
//
//	# Search from the terminal
//	ragdocs search "onboarding checklist" -n 5
//	ragdocs search -i
//
//	# Serve the HTTP API, or MCP over stdio
//	ragdocs serve
//	ragdocs mcp
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ragdocs",
		Short: "Semantic search over company documents",
		Long: `ragdocs pulls documents from Notion, Google Drive and local files,
embeds them into a persistent vector index and answers searches over it.

When the embedding model cannot be loaded the index stays usable with
keyword search.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ./ragdocs.yaml or ~/.config/ragdocs/config.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before RAGDOCS_* overrides (default: .env)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(opts),
		newMCPCmd(opts),
		newSyncCmd(opts),
		newIngestCmd(opts),
		newSearchCmd(opts),
		newStatsCmd(opts),
		newAskCmd(opts),
		newClearCmd(opts),
		newExportCmd(opts),
		newReembedCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ragdocs by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}
