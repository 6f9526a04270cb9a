package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chimera",
	Short: "Autonomous workflow engine for AI agents",
	Long: "chimera — a durable task queue and executor pool that drives feature\n" +
		"requests through a fixed agent pipeline: test generation, implementation,\n" +
		"review, staging deployment, and e2e validation.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(boardCmd)
}
