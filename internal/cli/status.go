package cli

import (
	"fmt"

	"github.com/chimeradev/chimera/internal/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue totals and recent workflows",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	tasks, err := s.List("")
	if err != nil {
		return err
	}

	counts := map[store.WorkflowStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}

	fmt.Printf("Workflows: %d total\n", len(tasks))
	for _, st := range []store.WorkflowStatus{store.StatusQueued, store.StatusRunning, store.StatusCompleted, store.StatusFailed} {
		if counts[st] == 0 {
			continue
		}
		fmt.Printf("  %s%-9s%s %d\n", statusColor(st), st, colorReset, counts[st])
	}

	if len(tasks) == 0 {
		fmt.Println("  (queue is empty — 'chimera enqueue' to add work)")
		return nil
	}

	fmt.Println()
	for _, t := range tasks {
		fmt.Printf("  %s%-9s%s %-36s p%-3d %s\n",
			statusColor(t.Status), t.Status, colorReset, t.ID, t.Priority, t.Phase)
	}
	return nil
}
