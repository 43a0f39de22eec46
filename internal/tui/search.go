// Package tui implements the interactive search screen.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

const (
	previewLines   = 2
	defaultWidth   = 80
	searchTimeout  = 30 * time.Second
	similarityBars = 20
)

// Searcher is the part of the document store the screen queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]docstore.ScoredMatch, error)
}

// Model is the bubbletea model of the search screen.
type Model struct {
	searcher Searcher
	limit    int
	health   docstore.Health

	input      textinput.Model
	similarity progress.Model

	query     string
	results   []docstore.ScoredMatch
	selected  int
	searching bool
	elapsed   time.Duration
	err       error
	quitting  bool
	width     int
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)
)

// NewModel returns a search screen over searcher. health is shown in the
// header so users can tell keyword-only results apart.
func NewModel(searcher Searcher, limit int, health docstore.Health) Model {
	ti := textinput.New()
	ti.Placeholder = "Search documents..."
	ti.Prompt = "› "
	ti.CharLimit = 512
	ti.Width = defaultWidth - 10
	ti.Focus()

	if limit <= 0 {
		limit = 5
	}

	return Model{
		searcher: searcher,
		limit:    limit,
		health:   health,
		input:    ti,
		similarity: progress.New(
			progress.WithGradient("#ff0000", "#00ff00"),
			progress.WithWidth(similarityBars),
			progress.WithoutPercentage(),
		),
		width: defaultWidth,
	}
}

type resultsMsg struct {
	query   string
	results []docstore.ScoredMatch
	elapsed time.Duration
}

type errMsg struct{ err error }

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func search(s Searcher, query string, limit int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()

		start := time.Now()
		results, err := s.Search(ctx, query, limit)
		if err != nil {
			return errMsg{err: err}
		}
		return resultsMsg{query: query, results: results, elapsed: time.Since(start)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			query := strings.TrimSpace(m.input.Value())
			if query == "" || m.searching {
				return m, nil
			}
			m.searching = true
			m.err = nil
			return m, search(m.searcher, query, m.limit)
		case tea.KeyUp:
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case tea.KeyDown:
			if m.selected < len(m.results)-1 {
				m.selected++
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = max(msg.Width-6, 20)
		m.input.Width = max(m.width-10, 10)
		return m, nil

	case resultsMsg:
		m.searching = false
		m.query = msg.query
		m.results = msg.results
		m.elapsed = msg.elapsed
		m.selected = 0
		return m, nil

	case errMsg:
		m.searching = false
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" ragdocs search "))
	b.WriteString("   " + stateBadge(m.health))
	b.WriteString("   " + dimStyle.Render(fmt.Sprintf("%d documents", m.health.Documents)))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")

	switch {
	case m.searching:
		b.WriteString("\n" + dimStyle.Render("Searching..."))
	case m.err != nil:
		b.WriteString("\n" + errorStyle.Render("Search failed: ") + m.err.Error())
	case m.query != "":
		b.WriteString(m.renderResults())
	}

	b.WriteString("\n" + footerKeyStyle.Render("[enter]") + footerStyle.Render(" search  ") +
		footerKeyStyle.Render("[↑/↓]") + footerStyle.Render(" select  ") +
		footerKeyStyle.Render("[esc]") + footerStyle.Render(" quit"))

	return containerStyle.Render(b.String())
}

func (m Model) renderResults() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n",
		dimStyle.Render(fmt.Sprintf("%d results for %q in %s", len(m.results), m.query, FormatElapsed(m.elapsed))))
	if len(m.results) == 0 {
		b.WriteString(dimStyle.Render("No documents matched."))
		return b.String()
	}

	for i, r := range m.results {
		marker, style := "  ", titleStyle
		if i == m.selected {
			marker, style = "▸ ", selectedStyle
		}
		b.WriteString("\n" + marker + style.Render(FormatTitle(r)))
		b.WriteString(" " + dimStyle.Render("("+FormatSource(r)+")"))
		if sim, ok := r.Similarity(); ok {
			b.WriteString("\n  " + m.similarity.ViewAs(clamp(sim)) + " " + labelStyle.Render(FormatSimilarity(r)))
		} else {
			b.WriteString("\n  " + labelStyle.Render(FormatSimilarity(r)))
		}
		if i == m.selected {
			for _, line := range Preview(r.Content, previewLines, m.width-4) {
				b.WriteString("\n  " + dimStyle.Render(line))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func stateBadge(h docstore.Health) string {
	switch {
	case h.State == docstore.StateReadyWithEmbeddings:
		return healthyStyle.Render("✓ SEMANTIC")
	case h.State.Ready():
		return warningStyle.Render("⚠ KEYWORD ONLY")
	default:
		return errorStyle.Render("✗ UNAVAILABLE")
	}
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
