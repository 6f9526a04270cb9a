package cli

import (
	"fmt"
	"os"

	"github.com/chimeradev/chimera/internal/config"
	"github.com/chimeradev/chimera/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a chimera project in the current directory",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(chimeraPath("config.yaml")); err == nil {
		fmt.Println("chimera project already initialized")
		return nil
	}

	if err := os.MkdirAll(chimeraDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", chimeraDir, err)
	}

	cfg := config.DefaultConfig()
	cfg.Agents = map[string]config.Agent{
		"tester": {
			Role: config.RoleTester,
			Cmd:  "chimera-tester",
		},
		"coder": {
			Role: config.RoleCoder,
			Cmd:  "chimera-coder",
		},
		"guardian": {
			Role: config.RoleGuardian,
			Cmd:  "chimera-guardian",
		},
		"deployer": {
			Role: config.RoleDeployment,
			Cmd:  "chimera-deployer",
		},
	}

	if err := config.Save(chimeraPath("config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// Create the queue database up front so enqueue works immediately.
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	s.Close()

	fmt.Printf("%s✓%s Initialized chimera project\n", colorGreen, colorReset)
	fmt.Printf("  %s — edit agent commands before running 'chimera serve'\n", chimeraPath("config.yaml"))
	return nil
}
