// Package config loads and validates the chimera project configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent roles recognized by the pipeline.
const (
	RoleTester     = "e2e-tester-agent"
	RoleCoder      = "coder-agent"
	RoleGuardian   = "guardian-agent"
	RoleDeployment = "deployment-agent"
)

// Config is the root configuration for a chimera project.
type Config struct {
	Version int              `yaml:"version"`
	Store   Store            `yaml:"store"`
	Pool    Pool             `yaml:"pool"`
	Agents  map[string]Agent `yaml:"agents"`
}

// Store configures the queue database.
type Store struct {
	Path string `yaml:"path"` // SQLite database file
}

// Pool configures the executor pool and its retry policy.
type Pool struct {
	MaxConcurrent      int `yaml:"max_concurrent"`       // concurrency ceiling (0 = default 4)
	PollIntervalSec    int `yaml:"poll_interval_sec"`    // queue poll tick (0 = default 5)
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"` // drain bound on stop (0 = default 30)
	PhaseTimeoutSec    int `yaml:"phase_timeout_sec"`    // per agent call (0 = default 300)
	MaxRetries         int `yaml:"max_retries"`          // per-phase retry cap (0 = default 2)
	RetryBackoffMS     int `yaml:"retry_backoff_ms"`     // initial backoff, doubles per attempt (0 = default 500)
	StaleAfterSec      int `yaml:"stale_after_sec"`      // RUNNING claims older than this are reclaimed (0 = default 600)
}

// Agent describes one external agent command and the role it serves.
type Agent struct {
	Role       string   `yaml:"role"`                  // e2e-tester-agent, coder-agent, guardian-agent, deployment-agent
	Cmd        string   `yaml:"cmd"`                   // command to spawn
	Args       []string `yaml:"args,omitempty"`        // command arguments
	TimeoutSec int      `yaml:"timeout_sec,omitempty"` // overrides pool phase timeout (0 = inherit)
}

func (p Pool) Size() int {
	if p.MaxConcurrent > 0 {
		return p.MaxConcurrent
	}
	return 4
}

func (p Pool) PollInterval() time.Duration {
	if p.PollIntervalSec > 0 {
		return time.Duration(p.PollIntervalSec) * time.Second
	}
	return 5 * time.Second
}

func (p Pool) ShutdownTimeout() time.Duration {
	if p.ShutdownTimeoutSec > 0 {
		return time.Duration(p.ShutdownTimeoutSec) * time.Second
	}
	return 30 * time.Second
}

func (p Pool) PhaseTimeout() time.Duration {
	if p.PhaseTimeoutSec > 0 {
		return time.Duration(p.PhaseTimeoutSec) * time.Second
	}
	return 300 * time.Second
}

func (p Pool) RetryLimit() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return 2
}

func (p Pool) RetryBackoff() time.Duration {
	if p.RetryBackoffMS > 0 {
		return time.Duration(p.RetryBackoffMS) * time.Millisecond
	}
	return 500 * time.Millisecond
}

func (p Pool) StaleAfter() time.Duration {
	if p.StaleAfterSec > 0 {
		return time.Duration(p.StaleAfterSec) * time.Second
	}
	return 600 * time.Second
}

// Load reads and parses the config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config with empty agent slots.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Store:   Store{Path: ".chimera/chimera.db"},
		Pool:    Pool{},
		Agents:  map[string]Agent{},
	}
}

var knownRoles = map[string]bool{
	RoleTester:     true,
	RoleCoder:      true,
	RoleGuardian:   true,
	RoleDeployment: true,
}

func (c *Config) validate() error {
	for name, agent := range c.Agents {
		if agent.Role == "" {
			return fmt.Errorf("agent %q: role is required", name)
		}
		if !knownRoles[agent.Role] {
			return fmt.Errorf("agent %q: unknown role %q", name, agent.Role)
		}
		if agent.Cmd == "" {
			return fmt.Errorf("agent %q: cmd is required", name)
		}
	}
	return nil
}

// AgentByRole returns the first configured agent with the given role.
func (c *Config) AgentByRole(role string) (string, Agent, bool) {
	for name, agent := range c.Agents {
		if agent.Role == role {
			return name, agent, true
		}
	}
	return "", Agent{}, false
}
