// Package config implements spectree's ambient configuration layer,
// adapted from codenerd's internal/config/config.go: a YAML-backed
// Config struct with layered defaults, environment-variable overrides,
// and validation. The teacher's LLM-provider/Mangle/Memory/Embedding
// fields belonged to codenerd's in-process AI runtime and have no
// equivalent here; this core's configurable surface is the planning
// service connection, the agent CLI invocation, and the orchestrator's
// concurrency/retry/checkpoint knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"spectree/internal/logging"
)

// Config holds every setting spectree needs to run an epic to
// completion.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Planning    PlanningConfig    `yaml:"planning"`
	Agent       AgentConfig       `yaml:"agent"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PlanningConfig configures the planning service client (C2).
type PlanningConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

// AgentConfig configures how the AI CLI subprocess (C3) is invoked.
type AgentConfig struct {
	Binary             string   `yaml:"binary"`
	Model              string   `yaml:"model"`
	SystemPrompt       string   `yaml:"system_prompt"`
	AppendSystemPrompt string   `yaml:"append_system_prompt"`
	MCPConfigPath      string   `yaml:"mcp_config_path"`
	AllowedTools       []string `yaml:"allowed_tools"`
	MaxTurns           int      `yaml:"max_turns"`
	OverallTimeout     string   `yaml:"overall_timeout"`
	InactivityTimeout  string   `yaml:"inactivity_timeout"`
}

// ExecutionConfig configures the orchestrator's concurrency and
// resumability knobs (C6/C7).
type ExecutionConfig struct {
	MaxAgents        int    `yaml:"max_agents"`
	Cwd              string `yaml:"cwd"`
	BaseBranch       string `yaml:"base_branch"`
	OnItemFailure    string `yaml:"on_item_failure"`
	ItemTimeout      string `yaml:"item_timeout"`
	CheckpointDir    string `yaml:"checkpoint_dir"`
	RetryMaxAttempts int    `yaml:"retry_max_attempts"`
}

// LoggingConfig holds the logging settings of the YAML config. The
// categorized file logger in internal/logging does not read it; that
// logger takes its settings from .spectree/logging.json.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`
}

// DefaultConfig returns spectree's built-in defaults, used whenever a
// config file is absent or a field is left unset.
func DefaultConfig() *Config {
	return &Config{
		Name:    "spectree",
		Version: "0.1.0",

		Planning: PlanningConfig{
			BaseURL: "http://localhost:4000",
			Timeout: "30s",
		},

		Agent: AgentConfig{
			Binary:            "claude",
			MaxTurns:          40,
			OverallTimeout:    "5m",
			InactivityTimeout: "60s",
		},

		Execution: ExecutionConfig{
			MaxAgents:        1,
			BaseBranch:       "main",
			OnItemFailure:    "continue",
			ItemTimeout:      "5m",
			CheckpointDir:    ".spectree/checkpoints",
			RetryMaxAttempts: 3,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// plus environment overrides when the file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("Loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("Config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("Failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("Config loaded: planning=%s agent=%s", cfg.Planning.BaseURL, cfg.Agent.Binary)
	return cfg, nil
}

// Save writes configuration to a YAML file, creating parent directories
// as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over whatever was
// loaded from disk, matching the teacher's priority-ordered override
// style.
func (c *Config) applyEnvOverrides() {
	if token := os.Getenv("SPECTREE_PLANNING_TOKEN"); token != "" {
		c.Planning.Token = token
	}
	if url := os.Getenv("SPECTREE_PLANNING_URL"); url != "" {
		c.Planning.BaseURL = url
	}
	if binary := os.Getenv("SPECTREE_AGENT_BINARY"); binary != "" {
		c.Agent.Binary = binary
	}
	if model := os.Getenv("SPECTREE_AGENT_MODEL"); model != "" {
		c.Agent.Model = model
	}
	if dir := os.Getenv("SPECTREE_CHECKPOINT_DIR"); dir != "" {
		c.Execution.CheckpointDir = dir
	}
}

// GetPlanningTimeout returns the planning client's HTTP timeout.
func (c *Config) GetPlanningTimeout() time.Duration {
	return parseDurationOr(c.Planning.Timeout, 30*time.Second)
}

// GetAgentOverallTimeout returns the agent subprocess's overall timeout.
func (c *Config) GetAgentOverallTimeout() time.Duration {
	return parseDurationOr(c.Agent.OverallTimeout, 5*time.Minute)
}

// GetAgentInactivityTimeout returns the agent subprocess's inactivity
// timeout.
func (c *Config) GetAgentInactivityTimeout() time.Duration {
	return parseDurationOr(c.Agent.InactivityTimeout, 60*time.Second)
}

// GetItemTimeout returns the per-WorkItem session timeout.
func (c *Config) GetItemTimeout() time.Duration {
	return parseDurationOr(c.Execution.ItemTimeout, 5*time.Minute)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Validate checks that the configuration is sufficient to start a run.
func (c *Config) Validate() error {
	if c.Planning.BaseURL == "" {
		return fmt.Errorf("planning.base_url is required")
	}
	if c.Planning.Token == "" {
		return fmt.Errorf("planning token not configured (set planning.token or SPECTREE_PLANNING_TOKEN)")
	}
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary is required")
	}
	if c.Execution.MaxAgents <= 0 {
		return fmt.Errorf("execution.max_agents must be positive")
	}
	return nil
}
