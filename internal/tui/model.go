// Package tui renders a live board of the chimera pipeline over the queue
// database.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/chimeradev/chimera/internal/store"
)

// column indices for navigation
const (
	colQueued    = 0
	colRunning   = 1
	colCompleted = 2
	colFailed    = 3
	numColumns   = 4
)

var columnStatuses = [numColumns]store.WorkflowStatus{
	store.StatusQueued,
	store.StatusRunning,
	store.StatusCompleted,
	store.StatusFailed,
}

var columnLabels = [numColumns]string{
	"QUEUED",
	"RUNNING",
	"COMPLETED",
	"FAILED",
}

// refreshInterval is how often the board re-reads the queue.
const refreshInterval = time.Second

// tickMsg triggers a periodic refresh.
type tickMsg time.Time

// Model is the top-level bubbletea model for the board.
type Model struct {
	store  *store.Store
	width  int
	height int

	columns   [numColumns][]store.WorkflowTask
	cursorCol int
	cursorRow int

	spin       spinner.Model
	showDetail bool
	err        error
}

// NewModel creates the board over an open store.
func NewModel(s *store.Store) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{store: s, spin: sp}
}

// Init loads the board and starts the refresh tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick(), m.spin.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshMsg carries the re-read board state.
type refreshMsg struct {
	columns [numColumns][]store.WorkflowTask
	err     error
}

func (m Model) refresh() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		var msg refreshMsg
		tasks, err := s.List("")
		if err != nil {
			msg.err = err
			return msg
		}
		for _, t := range tasks {
			for i, status := range columnStatuses {
				if t.Status == status {
					msg.columns[i] = append(msg.columns[i], t)
					break
				}
			}
		}
		return msg
	}
}

// selected returns the task under the cursor, if any.
func (m Model) selected() *store.WorkflowTask {
	col := m.columns[m.cursorCol]
	if m.cursorRow < 0 || m.cursorRow >= len(col) {
		return nil
	}
	return &col[m.cursorRow]
}
