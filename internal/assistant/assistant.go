// Package assistant answers questions from the documents in the store.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

var tracer = otel.Tracer("ragdocs.assistant")

var (
	// ErrInvalidMode is returned for an unknown analysis mode.
	ErrInvalidMode = errors.New("invalid analysis mode")

	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrGenerationFailed wraps errors from the language model.
	ErrGenerationFailed = errors.New("answer generation failed")
)

// NoDocumentsAnswer is returned when the search finds nothing to ground an
// answer on. The model is not called in that case.
const NoDocumentsAnswer = "No relevant documents were found for this question."

// Mode selects the kind of answer.
type Mode string

const (
	ModeSummary         Mode = "summary"
	ModeInsights        Mode = "insights"
	ModeRecommendations Mode = "recommendations"
)

// ParseMode accepts the mode names case-insensitively. Empty means summary.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSummary, nil
	case ModeSummary, ModeInsights, ModeRecommendations:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q (want summary, insights or recommendations)", ErrInvalidMode, s)
}

// Searcher is the part of the document store the analyzer reads.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]docstore.ScoredMatch, error)
}

// Config tunes generation.
type Config struct {
	TopK        int
	Temperature float64
	MaxTokens   int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
}

// Reference names a document an answer drew on.
type Reference struct {
	Title      string   `json:"title"`
	Source     string   `json:"source"`
	Similarity *float64 `json:"similarity,omitempty"`
}

// Analysis is a grounded answer.
type Analysis struct {
	Question   string      `json:"question"`
	Mode       Mode        `json:"mode"`
	Answer     string      `json:"answer"`
	References []Reference `json:"references"`
}

// Analyzer combines document search with a language model.
type Analyzer struct {
	store  Searcher
	llm    llms.Model
	cfg    Config
	logger *zap.Logger
}

// NewAnalyzer builds an analyzer. llm may be nil, in which case Analyze
// only works for questions without matches.
func NewAnalyzer(store Searcher, llm llms.Model, cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Analyzer{store: store, llm: llm, cfg: cfg, logger: logger}
}

// NewLLM builds the configured chat model.
func NewLLM(cfg config.AssistantConfig) (llms.Model, error) {
	switch cfg.Provider {
	case "", "openai":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: assistant.api_key is required for openai", config.ErrInvalidConfig)
		}
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey.Value()),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		return llm, nil
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		return llm, nil
	}
	return nil, fmt.Errorf("%w: unknown assistant.provider %q", config.ErrInvalidConfig, cfg.Provider)
}

// Analyze searches the store for question and asks the model to answer from
// the top matches. Store errors such as docstore.ErrUninitialized are
// returned unchanged.
func (a *Analyzer) Analyze(ctx context.Context, question string, mode Mode) (Analysis, error) {
	ctx, span := tracer.Start(ctx, "assistant.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(mode)))

	question = strings.TrimSpace(question)
	if question == "" {
		return Analysis{}, ErrEmptyQuestion
	}
	if _, ok := prompts[mode]; !ok {
		return Analysis{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	matches, err := a.store.Search(ctx, question, a.cfg.TopK)
	if err != nil {
		return Analysis{}, err
	}
	result := Analysis{Question: question, Mode: mode, References: references(matches)}
	if len(matches) == 0 {
		result.Answer = NoDocumentsAnswer
		return result, nil
	}
	if a.llm == nil {
		return Analysis{}, fmt.Errorf("%w: no language model configured", ErrGenerationFailed)
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: buildPrompt(mode, question, matches)}},
		},
	}
	resp, err := a.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(a.cfg.Temperature),
		llms.WithMaxTokens(a.cfg.MaxTokens),
	)
	if err != nil {
		a.logger.Error("generating answer", zap.String("mode", string(mode)), zap.Error(err))
		return Analysis{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}
	result.Answer = strings.TrimSpace(resp.Choices[0].Content)
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return result, nil
}

func references(matches []docstore.ScoredMatch) []Reference {
	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		ref := Reference{Title: m.Metadata.Title, Source: m.Metadata.Source}
		if sim, ok := m.Similarity(); ok {
			ref.Similarity = &sim
		}
		refs = append(refs, ref)
	}
	return refs
}
