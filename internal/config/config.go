package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Kantor configuration
type Config struct {
	// Models
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Provider credentials
	Profiles []ModelProfile `json:"profiles" mapstructure:"profiles"`

	// Agent turn loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Context budget
	Budget BudgetConfig `json:"budget" mapstructure:"budget"`

	// Model failover
	Failover FailoverConfig `json:"failover" mapstructure:"failover"`

	// Admission queue
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Session compaction
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Workspace roots
	Workspace WorkspaceConfig `json:"workspace" mapstructure:"workspace"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Sandbox
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelsConfig holds model selection configuration
type ModelsConfig struct {
	Default  string            `json:"default" mapstructure:"default"`
	Summary  string            `json:"summary" mapstructure:"summary"`
	Aliases  map[string]string `json:"aliases" mapstructure:"aliases"`
	Fallback []string          `json:"fallback" mapstructure:"fallback"`
}

// ModelProfile represents a model provider credential profile
type ModelProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig holds turn-loop configuration
type AgentConfig struct {
	MaxRounds       int      `json:"max_rounds" mapstructure:"max_rounds"`
	NudgeBudget     int      `json:"nudge_budget" mapstructure:"nudge_budget"`
	MaxContextTurns int      `json:"max_context_turns" mapstructure:"max_context_turns"`
	MaxOutputTokens int      `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature     float64  `json:"temperature" mapstructure:"temperature"`
	SystemPrompt    string   `json:"system_prompt" mapstructure:"system_prompt"`
	// Overrides for the permission-stall classifier; empty means built-in lists.
	StallPhrases     []string `json:"stall_phrases" mapstructure:"stall_phrases"`
	StallActionWords []string `json:"stall_action_words" mapstructure:"stall_action_words"`
}

// BudgetConfig holds context-budget thresholds
type BudgetConfig struct {
	SoftLimitChars    int `json:"soft_limit_chars" mapstructure:"soft_limit_chars"`
	HardLimitChars    int `json:"hard_limit_chars" mapstructure:"hard_limit_chars"`
	HeadChars         int `json:"head_chars" mapstructure:"head_chars"`
	TailChars         int `json:"tail_chars" mapstructure:"tail_chars"`
	KeepRecentResults int `json:"keep_recent_results" mapstructure:"keep_recent_results"`
}

// FailoverConfig holds model-failover tuning
type FailoverConfig struct {
	BaseCooldownSec   int `json:"base_cooldown_sec" mapstructure:"base_cooldown_sec"`
	MaxCooldownSec    int `json:"max_cooldown_sec" mapstructure:"max_cooldown_sec"`
	RequestTimeoutSec int `json:"request_timeout_sec" mapstructure:"request_timeout_sec"`
}

// QueueConfig holds admission-queue tuning
type QueueConfig struct {
	MaxConcurrentRuns int `json:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
	WaitNoticeMs      int `json:"wait_notice_ms" mapstructure:"wait_notice_ms"`
}

// SessionConfig holds conversation compaction settings
type SessionConfig struct {
	SummaryTriggerTurns int `json:"summary_trigger_turns" mapstructure:"summary_trigger_turns"`
	KeepLastTurns       int `json:"keep_last_turns" mapstructure:"keep_last_turns"`
}

// WorkspaceConfig holds filesystem root settings
type WorkspaceConfig struct {
	Root         string   `json:"root" mapstructure:"root"`
	AllowedRoots []string `json:"allowed_roots" mapstructure:"allowed_roots"`
	AllowAnyPath bool     `json:"allow_any_path" mapstructure:"allow_any_path"`
}

// ToolsConfig holds tool execution configuration
type ToolsConfig struct {
	Enabled         bool      `json:"enabled" mapstructure:"enabled"`
	AllowedCommands []string  `json:"allowed_commands" mapstructure:"allowed_commands"`
	MaxOutputChars  int       `json:"max_output_chars" mapstructure:"max_output_chars"`
	ExecTimeoutSec  int       `json:"exec_timeout_sec" mapstructure:"exec_timeout_sec"`
	Web             WebConfig `json:"web" mapstructure:"web"`
}

// WebConfig holds web tool (fetch/search/download) policy
type WebConfig struct {
	AllowedDomains  []string `json:"allowed_domains" mapstructure:"allowed_domains"`
	AllowAllDomains bool     `json:"allow_all_domains" mapstructure:"allow_all_domains"`
	FetchMaxChars   int      `json:"fetch_max_chars" mapstructure:"fetch_max_chars"`
	SkipTLSVerify   bool     `json:"skip_tls_verify" mapstructure:"skip_tls_verify"`
	CACertPath      string   `json:"ca_cert_path" mapstructure:"ca_cert_path"`
}

// SandboxConfig holds container sandbox settings
type SandboxConfig struct {
	Enabled         bool    `json:"enabled" mapstructure:"enabled"`
	Image           string  `json:"image" mapstructure:"image"`
	ContainerPrefix string  `json:"container_prefix" mapstructure:"container_prefix"`
	Network         string  `json:"network" mapstructure:"network"`
	MemoryMB        int     `json:"memory_mb" mapstructure:"memory_mb"`
	CPUs            float64 `json:"cpus" mapstructure:"cpus"`
	PidsLimit       int     `json:"pids_limit" mapstructure:"pids_limit"`
	ExecTimeoutSec  int     `json:"exec_timeout_sec" mapstructure:"exec_timeout_sec"`
	IdleTTLMin      int     `json:"idle_ttl_min" mapstructure:"idle_ttl_min"`
	JanitorEnabled  bool    `json:"janitor_enabled" mapstructure:"janitor_enabled"`
	JanitorSpec     string  `json:"janitor_spec" mapstructure:"janitor_spec"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Models: ModelsConfig{
			Default: "gpt-4.1",
			Summary: "gpt-4.1-mini",
			Aliases: map[string]string{
				"gpt4":   "gpt-4.1",
				"mini":   "gpt-4.1-mini",
				"sonnet": "claude-sonnet-4-5",
			},
			Fallback: []string{"gpt-4o", "gpt-4.1-mini"},
		},
		Profiles: []ModelProfile{},
		Agent: AgentConfig{
			MaxRounds:       24,
			NudgeBudget:     2,
			MaxContextTurns: 12,
			MaxOutputTokens: 8192,
			Temperature:     0.7,
		},
		Budget: BudgetConfig{
			SoftLimitChars:    40000,
			HardLimitChars:    180000,
			HeadChars:         20000,
			TailChars:         8000,
			KeepRecentResults: 3,
		},
		Failover: FailoverConfig{
			BaseCooldownSec:   60,
			MaxCooldownSec:    3600,
			RequestTimeoutSec: 120,
		},
		Queue: QueueConfig{
			MaxConcurrentRuns: 2,
			WaitNoticeMs:      2000,
		},
		Session: SessionConfig{
			SummaryTriggerTurns: 24,
			KeepLastTurns:       8,
		},
		Workspace: WorkspaceConfig{
			AllowedRoots: []string{},
			AllowAnyPath: false,
		},
		Tools: ToolsConfig{
			Enabled: true,
			AllowedCommands: []string{
				"pwd", "ls", "cat", "rg", "head", "tail", "wc", "find",
				"echo", "date", "python3", "git", "npm", "node", "pytest",
				"sed", "awk", "mkdir", "touch", "cp", "mv",
			},
			MaxOutputChars: 12000,
			ExecTimeoutSec: 15,
			Web: WebConfig{
				AllowedDomains:  []string{},
				AllowAllDomains: false,
				FetchMaxChars:   24000,
			},
		},
		Sandbox: SandboxConfig{
			Enabled:         false,
			Image:           "python:3.11-slim",
			ContainerPrefix: "kantor-sbx",
			MemoryMB:        1024,
			CPUs:            1.5,
			PidsLimit:       256,
			ExecTimeoutSec:  60,
			IdleTTLMin:      240,
			JanitorEnabled:  false,
			JanitorSpec:     "@every 30m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for i, profile := range c.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("profile %s: api_key is required", profile.ID)
		}
	}

	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}

	if c.Agent.MaxRounds < 1 {
		return fmt.Errorf("agent.max_rounds must be at least 1")
	}
	if c.Agent.NudgeBudget < 0 {
		return fmt.Errorf("agent.nudge_budget must not be negative")
	}

	if c.Budget.SoftLimitChars < 1 {
		return fmt.Errorf("budget.soft_limit_chars must be positive")
	}
	if c.Budget.HardLimitChars <= c.Budget.SoftLimitChars {
		return fmt.Errorf("budget.hard_limit_chars must exceed budget.soft_limit_chars")
	}
	if c.Budget.KeepRecentResults < 1 {
		return fmt.Errorf("budget.keep_recent_results must be at least 1")
	}
	if c.Budget.HeadChars < 1 || c.Budget.TailChars < 1 {
		return fmt.Errorf("budget.head_chars and budget.tail_chars must be positive")
	}

	if c.Failover.BaseCooldownSec < 1 {
		return fmt.Errorf("failover.base_cooldown_sec must be positive")
	}
	if c.Failover.MaxCooldownSec < c.Failover.BaseCooldownSec {
		return fmt.Errorf("failover.max_cooldown_sec must be at least base_cooldown_sec")
	}

	if c.Queue.MaxConcurrentRuns < 1 {
		return fmt.Errorf("queue.max_concurrent_runs must be at least 1")
	}

	if c.Session.SummaryTriggerTurns < 2 {
		return fmt.Errorf("session.summary_trigger_turns must be at least 2")
	}

	if c.Sandbox.Enabled {
		if c.Sandbox.Image == "" {
			return fmt.Errorf("sandbox.image is required when sandbox is enabled")
		}
		if c.Sandbox.MemoryMB < 64 {
			return fmt.Errorf("sandbox.memory_mb must be at least 64")
		}
		if c.Sandbox.CPUs <= 0 {
			return fmt.Errorf("sandbox.cpus must be positive")
		}
	}

	return nil
}
