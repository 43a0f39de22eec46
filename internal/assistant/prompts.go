package assistant

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

const systemPrompt = "You are an expert analyst of company documents. Base every statement on the documents provided and answer in the language of the question."

var prompts = map[Mode]string{
	ModeSummary: `Using the search results below, write a comprehensive summary about "%s".

Focus on:
- organizing the key information concisely
- combining what the different documents say
- including concrete figures and facts where present

Search results:
%s
Summary:`,
	ModeInsights: `Analyze the search results below and give insights about "%s".

Consider:
- trends and patterns in the data
- hidden problems and opportunities
- related factors and their impact
- the outlook

Search results:
%s
Insights:`,
	ModeRecommendations: `Using the search results below, write concrete recommendations about "%s".

Cover:
- what should improve
- actions to take
- the highest-priority measures
- caveats for carrying them out

Search results:
%s
Recommendations:`,
}

// formatContext renders matches as numbered document blocks.
func formatContext(matches []docstore.ScoredMatch) string {
	var b strings.Builder
	for i, m := range matches {
		title := m.Metadata.Title
		if title == "" {
			title = fmt.Sprintf("Document %d", i+1)
		}
		source := m.Metadata.Source
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&b, "\n=== Document %d: %s (source: %s) ===\n%s\n\n", i+1, title, source, m.Content)
	}
	return b.String()
}

func buildPrompt(mode Mode, question string, matches []docstore.ScoredMatch) string {
	return fmt.Sprintf(prompts[mode], question, formatContext(matches))
}
