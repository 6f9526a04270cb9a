package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get [task-id]",
	Short: "Show a workflow task with its context and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	s, _, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	task, err := s.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Workflow %s\n", task.ID)
	fmt.Printf("  Feature:   %s\n", task.Feature)
	if task.TargetURL != "" {
		fmt.Printf("  Target:    %s\n", task.TargetURL)
	}
	fmt.Printf("  Status:    %s%s%s\n", statusColor(task.Status), task.Status, colorReset)
	fmt.Printf("  Phase:     %s\n", task.Phase)
	fmt.Printf("  Priority:  %d\n", task.Priority)
	fmt.Printf("  Retries:   %d\n", task.RetryCount)
	fmt.Printf("  Created:   %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Updated:   %s\n", task.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	if len(task.Context) > 0 {
		fmt.Println("  Context:")
		keys := make([]string, 0, len(task.Context))
		for k := range task.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %s: %v\n", k, task.Context[k])
		}
	}

	events, err := s.GetEvents(task.ID)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println("  History:")
		for _, e := range events {
			fmt.Printf("    %s  %-14s %s\n",
				e.Timestamp.Local().Format("15:04:05"), e.Type, e.Content)
		}
	}

	return nil
}
