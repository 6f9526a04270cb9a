package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles key presses and refresh ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case refreshMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.columns = msg.columns
		m.clampCursor()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "left", "h":
			if m.cursorCol > 0 {
				m.cursorCol--
				m.clampCursor()
			}
		case "right", "l":
			if m.cursorCol < numColumns-1 {
				m.cursorCol++
				m.clampCursor()
			}
		case "up", "k":
			if m.cursorRow > 0 {
				m.cursorRow--
			}
		case "down", "j":
			if m.cursorRow < len(m.columns[m.cursorCol])-1 {
				m.cursorRow++
			}

		case "enter":
			if m.selected() != nil {
				m.showDetail = !m.showDetail
			}
		case "esc":
			m.showDetail = false

		case "r":
			return m, m.refresh()
		}
	}

	return m, nil
}

func (m *Model) clampCursor() {
	max := len(m.columns[m.cursorCol]) - 1
	if m.cursorRow > max {
		m.cursorRow = max
	}
	if m.cursorRow < 0 {
		m.cursorRow = 0
	}
}
