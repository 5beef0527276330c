// Package config loads the per-instance and user-global configuration files,
// resolving $include directives and environment references before decoding.
package config

import (
	"fmt"
	"time"
)

// InstanceConfig is the root of an instance's config.yaml.
type InstanceConfig struct {
	Agent        AgentConfig        `yaml:"agent"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Persona      PersonaConfig      `yaml:"persona"`
	Storage      StorageConfig      `yaml:"storage"`
	Compaction   CompactionConfig   `yaml:"compaction"`
	Snapshots    SnapshotConfig     `yaml:"snapshots"`
	Limits       LimitsConfig       `yaml:"limits"`
}

// AgentConfig selects models and turn behavior.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"`
	IntentModel string `yaml:"intent_model"`
	// Planning enables the plan tool and tier selection on needs_plan.
	Planning bool `yaml:"planning"`
	// Intent enables the pre-turn intent classification call.
	Intent bool `yaml:"intent"`
	// ThinkingBudgetTokens caps extended thinking; 0 uses the provider
	// default.
	ThinkingBudgetTokens int `yaml:"thinking_budget_tokens"`
	MaxTokens            int `yaml:"max_tokens"`
}

// CapabilitiesConfig points at the capability catalog and the enable map.
type CapabilitiesConfig struct {
	SkillsFile string          `yaml:"skills_file"`
	Enabled    map[string]bool `yaml:"enabled"`
}

// PersonaConfig points at the instance prompt and optional API docs.
type PersonaConfig struct {
	PromptFile string `yaml:"prompt_file"`
	APIDescDir string `yaml:"api_desc_dir"`
}

// StorageConfig anchors the instance data layout.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	InstanceID string `yaml:"instance_id"`
}

// CompactionConfig tunes the result compactor.
type CompactionConfig struct {
	Threshold      int `yaml:"threshold"`
	ForceThreshold int `yaml:"force_threshold"`
}

// SnapshotConfig tunes the state consistency manager.
type SnapshotConfig struct {
	Enabled      bool  `yaml:"enabled"`
	AutoSnapshot bool  `yaml:"auto_snapshot"`
	MaxTotalMB   int64 `yaml:"max_total_mb"`
	FailureLimit int   `yaml:"failure_limit"`
}

// LimitsConfig feeds the loop terminator. Durations are whole seconds.
type LimitsConfig struct {
	MaxTurns            int `yaml:"max_turns"`
	MaxDurationSeconds  int `yaml:"max_duration_seconds"`
	IdleTimeoutSeconds  int `yaml:"idle_timeout_seconds"`
	ConsecutiveFailures int `yaml:"consecutive_failures"`
	LongRunningTurns    int `yaml:"long_running_turns"`
}

// MaxDuration returns the wall-clock limit, zero when unset.
func (l LimitsConfig) MaxDuration() time.Duration {
	return time.Duration(l.MaxDurationSeconds) * time.Second
}

// IdleTimeout returns the idle limit, zero when unset.
func (l LimitsConfig) IdleTimeout() time.Duration {
	return time.Duration(l.IdleTimeoutSeconds) * time.Second
}

// Validate checks the fields without defaults.
func (c *InstanceConfig) Validate() error {
	if c.Agent.Model == "" {
		return fmt.Errorf("config: agent.model is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("config: storage.data_dir is required")
	}
	if c.Storage.InstanceID == "" {
		return fmt.Errorf("config: storage.instance_id is required")
	}
	return nil
}

// ProviderKeys is one provider entry in the user-global config.
type ProviderKeys struct {
	APIKey  string `yaml:"api_key" json:"api_key"`
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// UserConfig is the user-global config.yaml (or .json5): API keys grouped by
// provider name.
type UserConfig struct {
	Providers map[string]ProviderKeys `yaml:"providers" json:"providers"`
}

// Key returns the API key for a provider, empty when unset.
func (u *UserConfig) Key(provider string) string {
	if u == nil {
		return ""
	}
	return u.Providers[provider].APIKey
}
