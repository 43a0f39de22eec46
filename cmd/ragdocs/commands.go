package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/pipeline"
	"github.com/fyrsmithlabs/ragdocs/internal/sources"
	"github.com/fyrsmithlabs/ragdocs/internal/tui"
)

// storeRunE loads the app, opens the store and hands both to fn. Commands
// built on it fail when the store cannot be opened.
func storeRunE(opts *rootOptions, fn func(cmd *cobra.Command, args []string, a *app, s *docstore.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, opts, false)
		if err != nil {
			return err
		}
		defer a.close()

		s, err := a.store(ctx)
		if err != nil {
			return err
		}
		return fn(cmd, args, a, s)
	}
}

// ===== SYNC =====

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var (
		names   []string
		replace bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch documents from the enabled sources and index them",
		Long: `Fetch documents from every enabled source, scrub secrets, and add them to
the store. A failing source is reported and the others are still indexed.

Examples:
  ragdocs sync
  ragdocs sync --source notion --source files
  ragdocs sync --source files --replace`,
		Args: cobra.NoArgs,
		RunE: storeRunE(opts, func(cmd *cobra.Command, _ []string, a *app, s *docstore.Store) error {
			sy, err := a.newSyncer(cmd.Context(), s)
			if err != nil {
				return err
			}
			return runSync(cmd.Context(), sy, cmd.OutOrStdout(), names, replace)
		}),
	}
	cmd.Flags().StringSliceVar(&names, "source", nil, "source to sync (repeatable, default: all enabled)")
	cmd.Flags().BoolVar(&replace, "replace", false, "drop each synced source's previous entries first")
	return cmd
}

func runSync(ctx context.Context, sy *syncer, out io.Writer, names []string, replace bool) error {
	run := sy.Run
	if replace {
		run = sy.Replace
	}
	report, err := run(ctx, names)
	printReport(out, report)
	if err != nil {
		return err
	}
	if report.Result.Cancelled {
		return context.Canceled
	}
	if report.Failed() {
		return errors.New("one or more sources failed")
	}
	return nil
}

func printReport(w io.Writer, r pipeline.Report) {
	if r.RunID == "" {
		return
	}
	fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, r.Duration.Round(time.Millisecond))
	for _, s := range r.Sources {
		fmt.Fprintf(w, "  %-10s fetched %d", s.Name, s.Fetched)
		if s.Dropped > 0 {
			fmt.Fprintf(w, ", dropped %d", s.Dropped)
		}
		if s.Redacted > 0 {
			fmt.Fprintf(w, ", redacted %d", s.Redacted)
		}
		if s.Error != "" {
			fmt.Fprintf(w, ", error: %s", s.Error)
		}
		fmt.Fprintln(w)
	}
	if r.Cleared {
		fmt.Fprintln(w, "Collection cleared before sync")
	}
	if r.Replaced > 0 {
		fmt.Fprintf(w, "Replaced %d previous entries\n", r.Replaced)
	}
	printIngestResult(w, r.Result)
}

func printIngestResult(w io.Writer, r docstore.IngestResult) {
	fmt.Fprintf(w, "Added %d documents (%d skipped, %d duplicates, %d without embedding)\n",
		r.Added, r.Skipped, r.Deduplicated, r.ZeroVector)
}

// ===== INGEST =====

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Index local files",
		Long: `Extract text from the given files and add them to the store. PDF, DOCX,
XLSX, PPTX and plain text files are supported.

Examples:
  ragdocs ingest handbook.pdf notes/*.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: storeRunE(opts, func(cmd *cobra.Command, args []string, a *app, s *docstore.Store) error {
			return runIngest(cmd.Context(), a, s, cmd.OutOrStdout(), args)
		}),
	}
}

func runIngest(ctx context.Context, a *app, s pipeline.Store, out io.Writer, paths []string) error {
	records := make([]docstore.Record, 0, len(paths))
	for _, path := range paths {
		text, err := sources.ReadFile(ctx, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		text, _ = a.scrubber.Scrub(text)
		records = append(records, docstore.Record{
			Content: text,
			Source:  docstore.SourceFiles,
			Title:   filepath.Base(path),
			Type:    "file",
		})
	}

	res, err := s.Ingest(ctx, records)
	if err != nil {
		return err
	}
	printIngestResult(out, res)
	return nil
}

// ===== SEARCH =====

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit       int
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the indexed documents",
		Long: `Search the store. Results are ranked by embedding similarity; when the
model is unavailable they are keyword matches in insertion order.

Examples:
  ragdocs search "expense policy"
  ragdocs search -n 3 onboarding
  ragdocs search -i`,
		RunE: storeRunE(opts, func(cmd *cobra.Command, args []string, a *app, s *docstore.Store) error {
			if limit <= 0 {
				limit = a.cfg.Store.DefaultResults
			}
			if interactive {
				_, err := tea.NewProgram(tui.NewModel(s, limit, s.Health()), tea.WithContext(cmd.Context())).Run()
				return err
			}
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("a query is required (or use -i)")
			}
			return runSearch(cmd.Context(), s, cmd.OutOrStdout(), query, limit)
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (default: store.default_results)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "open the interactive search screen")
	return cmd
}

func runSearch(ctx context.Context, s tui.Searcher, out io.Writer, query string, limit int) error {
	matches, err := s.Search(ctx, query, limit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Fprintln(out, "No documents matched.")
		return nil
	}
	for i, m := range matches {
		fmt.Fprintf(out, "%d. %s (%s) %s\n", i+1, tui.FormatTitle(m), tui.FormatSource(m), tui.FormatSimilarity(m))
		for _, line := range tui.Preview(m.Content, 3, 100) {
			fmt.Fprintf(out, "   %s\n", line)
		}
	}
	return nil
}

// ===== STATS =====

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show document count and store state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts, false)
			if err != nil {
				return err
			}
			defer a.close()

			// A failed store still reports its state.
			s, err := a.store(ctx)
			if s == nil {
				return err
			}
			printStats(cmd.OutOrStdout(), s.Stats(ctx), s.Health())
			return nil
		},
	}
}

func printStats(w io.Writer, st docstore.Stats, h docstore.Health) {
	embeddings := "unavailable (keyword search)"
	if h.EmbeddingsAvailable {
		embeddings = "available"
	}
	fmt.Fprintf(w, "Documents:  %d\n", st.TotalDocuments)
	fmt.Fprintf(w, "Status:     %s\n", st.Status)
	fmt.Fprintf(w, "State:      %s\n", h.State)
	fmt.Fprintf(w, "Persistent: %t\n", h.Persistent)
	fmt.Fprintf(w, "Model:      %s (%d dims)\n", h.Model, h.Dimension)
	fmt.Fprintf(w, "Embeddings: %s\n", embeddings)
}

// ===== ASK =====

func newAskCmd(opts *rootOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Long: `Retrieve the most relevant documents and ask the configured LLM to answer
from them.

Modes:
  summary          summarize what the documents say (default)
  insights         extract patterns and notable points
  recommendations  suggest concrete next steps

Examples:
  ragdocs ask "How do we run retrospectives?"
  ragdocs ask --mode recommendations "How can we shorten meetings?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: storeRunE(opts, func(cmd *cobra.Command, args []string, a *app, s *docstore.Store) error {
			m, err := assistant.ParseMode(mode)
			if err != nil {
				return err
			}
			an, err := a.analyzer(s)
			if err != nil {
				return fmt.Errorf("assistant unavailable: %w", err)
			}
			return runAsk(cmd.Context(), an, cmd.OutOrStdout(), strings.Join(args, " "), m)
		}),
	}
	cmd.Flags().StringVar(&mode, "mode", "summary", "analysis mode: summary, insights or recommendations")
	return cmd
}

type answerer interface {
	Analyze(ctx context.Context, question string, mode assistant.Mode) (assistant.Analysis, error)
}

func runAsk(ctx context.Context, an answerer, out io.Writer, question string, mode assistant.Mode) error {
	res, err := an.Analyze(ctx, question, mode)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, res.Answer)
	if len(res.References) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nReferences:")
	for _, r := range res.References {
		if r.Similarity != nil {
			fmt.Fprintf(out, "  - %s (%s) similarity %.3f\n", r.Title, r.Source, *r.Similarity)
		} else {
			fmt.Fprintf(out, "  - %s (%s)\n", r.Title, r.Source)
		}
	}
	return nil
}

// ===== MAINTENANCE =====

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every document from the collection",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if !yes {
				return errors.New("refusing to clear the collection without --yes")
			}
			return nil
		},
		RunE: storeRunE(opts, func(cmd *cobra.Command, _ []string, _ *app, s *docstore.Store) error {
			if err := s.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Collection cleared")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var compress bool
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export the collection to a file",
		Long: `Write the collection, vectors included, to a single file that can be
imported into another chromem-go database.

Examples:
  ragdocs export backup.gob
  ragdocs export --compress backup.gob.gz`,
		Args: cobra.ExactArgs(1),
		RunE: storeRunE(opts, func(cmd *cobra.Command, args []string, _ *app, s *docstore.Store) error {
			if err := s.Export(cmd.Context(), args[0], compress); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d documents to %s\n", s.Stats(cmd.Context()).TotalDocuments, args[0])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&compress, "compress", false, "gzip the export")
	return cmd
}

func newReembedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reembed",
		Short: "Embed documents that were stored without a vector",
		Long: `Documents added while the embedding model was unavailable are stored
without a vector and rank last. Run this once the model loads again.`,
		Args: cobra.NoArgs,
		RunE: storeRunE(opts, func(cmd *cobra.Command, _ []string, _ *app, s *docstore.Store) error {
			n, err := s.Reembed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-embedded %d documents\n", n)
			return nil
		}),
	}
}
