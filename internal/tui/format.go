package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

// FormatTitle returns the match title, or its id when untitled.
func FormatTitle(m docstore.ScoredMatch) string {
	if m.Metadata.Title != "" {
		return m.Metadata.Title
	}
	return m.ID
}

// FormatSource formats "source/type", leaving out what is unknown.
func FormatSource(m docstore.ScoredMatch) string {
	switch {
	case m.Metadata.Source == "":
		return "unknown"
	case m.Metadata.Type == "":
		return m.Metadata.Source
	default:
		return m.Metadata.Source + "/" + m.Metadata.Type
	}
}

// FormatSimilarity formats a ranked match as "similarity 0.873" and a
// keyword match as "keyword match".
func FormatSimilarity(m docstore.ScoredMatch) string {
	sim, ok := m.Similarity()
	if !ok {
		return "keyword match"
	}
	return fmt.Sprintf("similarity %.3f", sim)
}

// FormatElapsed formats a duration as "X.Xms" or "X.Xs".
func FormatElapsed(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// Preview returns up to n non-blank lines of content, each cut to width
// runes.
func Preview(content string, n, width int) []string {
	if width < 4 {
		width = 4
	}
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > width {
			line = string(r[:width-1]) + "…"
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
