// Package config loads the orchestrator's non-secret settings from a
// YAML file. Secrets (board bearer token, LLM provider API keys) are
// read from the environment only and never appear here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BoardBackend selects which board.Store implementation the orchestrator
// wires up at startup.
type BoardBackend string

const (
	BackendRemote BoardBackend = "remote"
	BackendLocal  BoardBackend = "local"
	BackendMemory BoardBackend = "memory"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	Board   BoardConfig   `yaml:"board"`
	Specgen SpecgenConfig `yaml:"specgen"`
	Runner  RunnerConfig  `yaml:"runner"`
	Health  HealthConfig  `yaml:"health"`
	Events  EventsConfig  `yaml:"events"`
}

// BoardConfig selects and configures the Board Store backend.
type BoardConfig struct {
	Backend    BoardBackend `yaml:"backend"`
	RemoteURL  string       `yaml:"remoteUrl"`
	LocalPath  string       `yaml:"localPath"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
}

// SpecgenConfig tunes the Spec Generator loop.
type SpecgenConfig struct {
	PollInterval    time.Duration `yaml:"pollInterval"`
	InFlightTTL     time.Duration `yaml:"inFlightTTL"`
	PrimaryProvider string        `yaml:"primaryProvider"`
	FallbackProvider string       `yaml:"fallbackProvider"`
}

// RunnerConfig tunes the Task Runner loop.
type RunnerConfig struct {
	PollInterval  time.Duration `yaml:"pollInterval"`
	Concurrency   int           `yaml:"concurrency"`
	GlobalFloorMB int           `yaml:"globalFloorMB"`
	WorkspaceDir  string        `yaml:"workspaceDir"`
	ResultsDir    string        `yaml:"resultsDir"`
	AgentsPath    string        `yaml:"agentsPath"`
}

// HealthConfig tunes the local HTTP control surface.
type HealthConfig struct {
	Addr      string `yaml:"addr"`
	ExportDir string `yaml:"exportDir"`
}

// EventsConfig tunes the lifecycle event bus and its optional NATS mirror.
type EventsConfig struct {
	NATSEnabled bool   `yaml:"natsEnabled"`
	NATSPort    int    `yaml:"natsPort"`
	NATSSubject string `yaml:"natsSubject"`
}

// Defaults mirror the package-level fallbacks used when a field is left
// unset in the YAML file, so a near-empty config.yaml still runs.
func Defaults() Config {
	return Config{
		Board: BoardConfig{
			Backend:     BackendMemory,
			LocalPath:   "board.db",
			HTTPTimeout: 15 * time.Second,
		},
		Specgen: SpecgenConfig{
			PollInterval:     10 * time.Second,
			InFlightTTL:      5 * time.Minute,
			PrimaryProvider:  "openai",
			FallbackProvider: "anthropic",
		},
		Runner: RunnerConfig{
			PollInterval:  15 * time.Second,
			Concurrency:   1,
			GlobalFloorMB: 400,
			WorkspaceDir:  "workspaces",
			ResultsDir:    "results",
			AgentsPath:    "agents.json",
		},
		Health: HealthConfig{
			Addr:      "127.0.0.1:8099",
			ExportDir: "exports",
		},
		Events: EventsConfig{
			NATSEnabled: false,
			NATSPort:    4222,
			NATSSubject: "orchestrator.events",
		},
	}
}

// Load reads and parses a YAML config file, filling any field the file
// leaves zero-valued with the corresponding Defaults() value.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults backfills zero-valued fields the YAML file omitted, since
// yaml.Unmarshal into a pre-populated struct only overwrites keys present
// in the document.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Board.Backend == "" {
		cfg.Board.Backend = d.Board.Backend
	}
	if cfg.Board.HTTPTimeout == 0 {
		cfg.Board.HTTPTimeout = d.Board.HTTPTimeout
	}
	if cfg.Specgen.PollInterval == 0 {
		cfg.Specgen.PollInterval = d.Specgen.PollInterval
	}
	if cfg.Specgen.InFlightTTL == 0 {
		cfg.Specgen.InFlightTTL = d.Specgen.InFlightTTL
	}
	if cfg.Runner.PollInterval == 0 {
		cfg.Runner.PollInterval = d.Runner.PollInterval
	}
	if cfg.Runner.Concurrency == 0 {
		cfg.Runner.Concurrency = d.Runner.Concurrency
	}
	if cfg.Runner.GlobalFloorMB == 0 {
		cfg.Runner.GlobalFloorMB = d.Runner.GlobalFloorMB
	}
	if cfg.Runner.WorkspaceDir == "" {
		cfg.Runner.WorkspaceDir = d.Runner.WorkspaceDir
	}
	if cfg.Runner.ResultsDir == "" {
		cfg.Runner.ResultsDir = d.Runner.ResultsDir
	}
	if cfg.Runner.AgentsPath == "" {
		cfg.Runner.AgentsPath = d.Runner.AgentsPath
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = d.Health.Addr
	}
	if cfg.Health.ExportDir == "" {
		cfg.Health.ExportDir = d.Health.ExportDir
	}
	if cfg.Events.NATSPort == 0 {
		cfg.Events.NATSPort = d.Events.NATSPort
	}
	if cfg.Events.NATSSubject == "" {
		cfg.Events.NATSSubject = d.Events.NATSSubject
	}
}

// Validate checks cross-field invariants Load cannot enforce by itself.
func (c Config) Validate() error {
	switch c.Board.Backend {
	case BackendRemote:
		if c.Board.RemoteURL == "" {
			return fmt.Errorf("config: board.remoteUrl required for backend %q", BackendRemote)
		}
	case BackendLocal:
		if c.Board.LocalPath == "" {
			return fmt.Errorf("config: board.localPath required for backend %q", BackendLocal)
		}
	case BackendMemory:
		// no extra fields required
	default:
		return fmt.Errorf("config: unknown board backend %q", c.Board.Backend)
	}
	if c.Runner.Concurrency <= 0 {
		return fmt.Errorf("config: runner.concurrency must be positive, got %d", c.Runner.Concurrency)
	}
	return nil
}
