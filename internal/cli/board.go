package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/chimeradev/chimera/internal/tui"
	"github.com/spf13/cobra"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the live pipeline board (TUI)",
	RunE:  runBoard,
}

func runBoard(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p := tea.NewProgram(tui.NewModel(s), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run board: %w", err)
	}
	return nil
}
