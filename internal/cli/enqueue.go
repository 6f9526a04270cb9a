package cli

import (
	"errors"
	"fmt"

	"github.com/chimeradev/chimera/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [feature description]",
	Short: "Enqueue a feature workflow",
	Long: `Adds a workflow task to the durable queue.

The running daemon ('chimera serve') admits queued tasks by priority and
drives them through the agent pipeline.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

var (
	enqueueID       string
	enqueueURL      string
	enqueuePriority int
)

func init() {
	enqueueCmd.Flags().StringVar(&enqueueID, "id", "", "Task ID (default: generated UUID)")
	enqueueCmd.Flags().StringVar(&enqueueURL, "url", "", "Target URL the feature is built against")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "Priority (higher is served first)")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	id := enqueueID
	if id == "" {
		id = uuid.NewString()
	}

	task, err := s.Enqueue(id, args[0], enqueueURL, enqueuePriority)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTask) {
			return fmt.Errorf("task %q already exists", id)
		}
		return err
	}

	fmt.Printf("%s✓%s Enqueued workflow %s (priority %d)\n", colorGreen, colorReset, task.ID, task.Priority)
	return nil
}
