package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

var errInvalidArgument = errors.New("invalid argument")

// ===== INPUT/OUTPUT TYPES =====

type searchInput struct {
	Query string `json:"query" jsonschema:"Text to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type searchMatch struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Source     string   `json:"source"`
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Ranked     bool     `json:"ranked" jsonschema:"False for keyword matches, which carry no similarity"`
	Similarity *float64 `json:"similarity,omitempty"`
}

type searchOutput struct {
	Query   string        `json:"query"`
	Count   int           `json:"count"`
	Matches []searchMatch `json:"matches"`
}

type statsInput struct{}

type statsOutput struct {
	TotalDocuments      int    `json:"total_documents"`
	Status              string `json:"status"`
	State               string `json:"state"`
	EmbeddingsAvailable bool   `json:"embeddings_available"`
	Model               string `json:"model"`
}

type ingestDocument struct {
	Content string `json:"content" jsonschema:"Document text"`
	Title   string `json:"title,omitempty"`
	Source  string `json:"source,omitempty" jsonschema:"Origin label (default: mcp)"`
	Type    string `json:"type,omitempty"`
}

type ingestInput struct {
	Documents []ingestDocument `json:"documents" jsonschema:"Documents to add to the store"`
}

type ingestOutput struct {
	Added        int `json:"added"`
	Skipped      int `json:"skipped"`
	ZeroVector   int `json:"zero_vector"`
	Deduplicated int `json:"deduplicated"`
}

type analyzeInput struct {
	Question string `json:"question" jsonschema:"Question to answer from the stored documents"`
	Mode     string `json:"mode,omitempty" jsonschema:"One of summary, insights, recommendations (default: summary)"`
}

type analyzeReference struct {
	Title      string   `json:"title"`
	Source     string   `json:"source"`
	Similarity *float64 `json:"similarity,omitempty"`
}

type analyzeOutput struct {
	Answer     string             `json:"answer"`
	Mode       string             `json:"mode"`
	References []analyzeReference `json:"references"`
}

// ===== REGISTRATION =====

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Search the document store. Returns the closest documents by embedding similarity, or keyword matches when embeddings are unavailable.",
	}, instrument(s, "search_documents", s.searchDocuments))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "document_stats",
		Description: "Report how many documents the store holds and whether semantic search is available.",
	}, instrument(s, "document_stats", s.documentStats))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest_documents",
		Description: "Add documents to the store. Identical content already stored is skipped.",
	}, instrument(s, "ingest_documents", s.ingestDocuments))

	if s.answerer != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "analyze_documents",
			Description: "Answer a question from the stored documents using the configured language model.",
		}, instrument(s, "analyze_documents", s.analyzeDocuments))
	}
}

// instrument wraps a tool handler with metrics and logging.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.begin(ctx, name)
		res, out, err := h(ctx, req, in)
		done(err)
		if err != nil {
			s.logger.Warn("tool call failed",
				zap.String("tool", name),
				zap.String("reason", categorizeError(err)),
				zap.Error(err),
			)
		}
		return res, out, err
	}
}

// toolError turns a store error into the message the client sees.
func toolError(op string, err error) error {
	if errors.Is(err, docstore.ErrUninitialized) {
		return fmt.Errorf("%s: store unavailable: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// ===== HANDLERS =====

func (s *Server) searchDocuments(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
	// A blank query is not an error; the store answers it with no matches.
	query := strings.TrimSpace(args.Query)
	limit := args.Limit
	if limit <= 0 {
		limit = s.config.DefaultResults
	}
	limit = min(limit, s.config.MaxResults)

	found, err := s.store.Search(ctx, query, limit)
	if err != nil {
		return nil, searchOutput{}, toolError("search", err)
	}

	out := searchOutput{Query: query, Count: len(found), Matches: make([]searchMatch, 0, len(found))}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d documents for %q", len(found), query)
	for i, m := range found {
		content, _ := s.scrubber.Scrub(m.Content)
		match := searchMatch{
			ID:      m.ID,
			Title:   m.Metadata.Title,
			Source:  m.Metadata.Source,
			Type:    m.Metadata.Type,
			Content: content,
			Ranked:  m.Ranked(),
		}
		fmt.Fprintf(&b, "\n\n%d. %s (%s)", i+1, match.Title, match.Source)
		if sim, ok := m.Similarity(); ok {
			match.Similarity = &sim
			fmt.Fprintf(&b, " similarity %.3f", sim)
		}
		fmt.Fprintf(&b, "\n%s", content)
		out.Matches = append(out.Matches, match)
	}

	return textResult(b.String()), out, nil
}

func (s *Server) documentStats(ctx context.Context, _ *mcp.CallToolRequest, _ statsInput) (*mcp.CallToolResult, statsOutput, error) {
	health := s.store.Health()
	if !health.State.Ready() {
		return nil, statsOutput{}, toolError("stats", docstore.ErrUninitialized)
	}

	st := s.store.Stats(ctx)
	out := statsOutput{
		TotalDocuments:      st.TotalDocuments,
		Status:              string(st.Status),
		State:               health.State.String(),
		EmbeddingsAvailable: health.EmbeddingsAvailable,
		Model:               health.Model,
	}
	text := fmt.Sprintf("%d documents (%s, %s)", out.TotalDocuments, out.Status, out.State)
	return textResult(text), out, nil
}

func (s *Server) ingestDocuments(ctx context.Context, _ *mcp.CallToolRequest, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
	if len(args.Documents) == 0 {
		return nil, ingestOutput{}, fmt.Errorf("%w: documents is empty", errInvalidArgument)
	}

	records := make([]docstore.Record, 0, len(args.Documents))
	for _, d := range args.Documents {
		source := d.Source
		if source == "" {
			source = "mcp"
		}
		records = append(records, docstore.Record{
			Content: d.Content,
			Title:   d.Title,
			Source:  source,
			Type:    d.Type,
		})
	}

	res, err := s.store.Ingest(ctx, records)
	if err != nil {
		return nil, ingestOutput{}, toolError("ingest", err)
	}
	if res.Cancelled {
		return nil, ingestOutput{}, toolError("ingest", context.Canceled)
	}

	out := ingestOutput{
		Added:        res.Added,
		Skipped:      res.Skipped,
		ZeroVector:   res.ZeroVector,
		Deduplicated: res.Deduplicated,
	}
	text := fmt.Sprintf("Added %d documents (%d skipped, %d duplicates)", out.Added, out.Skipped, out.Deduplicated)
	return textResult(text), out, nil
}

func (s *Server) analyzeDocuments(ctx context.Context, _ *mcp.CallToolRequest, args analyzeInput) (*mcp.CallToolResult, analyzeOutput, error) {
	mode, err := assistant.ParseMode(args.Mode)
	if err != nil {
		return nil, analyzeOutput{}, err
	}

	an, err := s.answerer.Analyze(ctx, args.Question, mode)
	if err != nil {
		return nil, analyzeOutput{}, toolError("analyze", err)
	}

	answer, _ := s.scrubber.Scrub(an.Answer)
	out := analyzeOutput{
		Answer:     answer,
		Mode:       string(an.Mode),
		References: make([]analyzeReference, 0, len(an.References)),
	}
	for _, r := range an.References {
		out.References = append(out.References, analyzeReference{
			Title:      r.Title,
			Source:     r.Source,
			Similarity: r.Similarity,
		})
	}
	return textResult(answer), out, nil
}
