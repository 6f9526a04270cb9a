package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chimeradev/chimera/internal/agent"
	"github.com/chimeradev/chimera/internal/config"
	"github.com/chimeradev/chimera/internal/executor"
	"github.com/chimeradev/chimera/internal/log"
	"github.com/chimeradev/chimera/internal/pipeline"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workflow daemon",
	Long: `Starts the executor pool: polls the queue, admits tasks up to the
concurrency ceiling, and drives each one through the agent pipeline until
it completes or fails. Stop with Ctrl-C; in-flight tasks finish their
current phase step before the daemon exits.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	s, cfg, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	logger := log.GetLogger()
	driver := pipeline.NewDriver(registry)
	pool := executor.NewPool(s, driver, cfg.Pool, logger)

	if err := pool.Start(); err != nil {
		return fmt.Errorf("start executor pool: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\nshutting down...")
	pool.Stop()

	m := pool.GetMetrics()
	fmt.Printf("processed %d workflows (%d succeeded, %d failed)\n",
		m.TotalProcessed, m.TotalSucceeded, m.TotalFailed)
	return nil
}

// buildRegistry wires one exec-based agent per pipeline role from the
// project config.
func buildRegistry(cfg *config.Config) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	name, ac, ok := cfg.AgentByRole(config.RoleTester)
	if !ok {
		return nil, fmt.Errorf("config has no agent with role %s", config.RoleTester)
	}
	registry.RegisterTester(agent.NewExecAgent(name, ac))

	name, ac, ok = cfg.AgentByRole(config.RoleCoder)
	if !ok {
		return nil, fmt.Errorf("config has no agent with role %s", config.RoleCoder)
	}
	registry.RegisterCoder(agent.NewExecAgent(name, ac))

	name, ac, ok = cfg.AgentByRole(config.RoleGuardian)
	if !ok {
		return nil, fmt.Errorf("config has no agent with role %s", config.RoleGuardian)
	}
	registry.RegisterReviewer(agent.NewExecAgent(name, ac))

	name, ac, ok = cfg.AgentByRole(config.RoleDeployment)
	if !ok {
		return nil, fmt.Errorf("config has no agent with role %s", config.RoleDeployment)
	}
	registry.RegisterDeployer(agent.NewExecAgent(name, ac))

	return registry, nil
}
