package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chimeradev/chimera/internal/config"
	"github.com/chimeradev/chimera/internal/store"
)

// chimeraDir is the project-local state directory.
const chimeraDir = ".chimera"

// ANSI colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// chimeraPath returns a path inside the state directory.
func chimeraPath(name string) string {
	return filepath.Join(chimeraDir, name)
}

// mustConfig loads the project config, failing with a hint when the project
// is not initialized.
func mustConfig() (*config.Config, error) {
	path := chimeraPath("config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no chimera project here; run 'chimera init' first")
	}
	return config.Load(path)
}

// mustStore opens the queue database configured for this project.
func mustStore() (*store.Store, *config.Config, error) {
	cfg, err := mustConfig()
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = chimeraPath("chimera.db")
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open queue: %w", err)
	}
	return s, cfg, nil
}

// statusColor picks a color for a workflow status.
func statusColor(status store.WorkflowStatus) string {
	switch status {
	case store.StatusCompleted:
		return colorGreen
	case store.StatusFailed:
		return colorRed
	case store.StatusRunning:
		return colorCyan
	default:
		return colorYellow
	}
}
