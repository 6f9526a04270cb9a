package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/chimeradev/chimera/internal/store"
)

// --- Color palette ---
var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

// --- Styles ---
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	dimStyle    = lipgloss.NewStyle().Foreground(clrDim)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(clrSubtle)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1).
			Width(30)

	cardSelectedStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(clrHighlight).
				Padding(0, 1).
				Width(30).
				Bold(true)
)

var columnColors = [numColumns]lipgloss.AdaptiveColor{
	clrYellow,
	clrHighlight,
	clrGreen,
	clrRed,
}

// View renders the board.
func (m Model) View() string {
	if m.err != nil {
		return fmt.Sprintf("board error: %v\n(press q to quit)", m.err)
	}

	var b strings.Builder

	header := titleStyle.Render("chimera pipeline")
	if len(m.columns[colRunning]) > 0 {
		header += "  " + m.spin.View() + dimStyle.Render(
			fmt.Sprintf("%d running", len(m.columns[colRunning])))
	}
	b.WriteString(header + "\n\n")

	cols := make([]string, numColumns)
	for i := range m.columns {
		cols[i] = m.renderColumn(i)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cols...))

	if m.showDetail {
		if t := m.selected(); t != nil {
			b.WriteString("\n" + m.renderDetail(t))
		}
	}

	b.WriteString("\n" + dimStyle.Render("←/→ columns · ↑/↓ tasks · enter detail · q quit"))
	return b.String()
}

func (m Model) renderColumn(i int) string {
	label := lipgloss.NewStyle().Bold(true).Foreground(columnColors[i]).
		Render(fmt.Sprintf("%s (%d)", columnLabels[i], len(m.columns[i])))

	var cards []string
	cards = append(cards, label)
	for row, t := range m.columns[i] {
		style := cardStyle
		if i == m.cursorCol && row == m.cursorRow {
			style = cardSelectedStyle
		}
		body := truncate(t.Feature, 26) + "\n" + dimStyle.Render(string(t.Phase))
		cards = append(cards, style.Render(body))
	}
	if len(m.columns[i]) == 0 {
		cards = append(cards, dimStyle.Render("  (empty)"))
	}

	return lipgloss.NewStyle().Margin(0, 1).Render(
		lipgloss.JoinVertical(lipgloss.Left, cards...))
}

func (m Model) renderDetail(t *store.WorkflowTask) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Workflow "+t.ID) + "\n")
	b.WriteString(fmt.Sprintf("  %s · %s · priority %d · retries %d\n",
		t.Status, t.Phase, t.Priority, t.RetryCount))
	for _, key := range []string{"test_path", "pr_id", "commit_sha", "staging_url", "last_error", "failure_reason"} {
		if v, ok := t.Context[key]; ok {
			b.WriteString(fmt.Sprintf("  %s: %v\n", key, v))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
