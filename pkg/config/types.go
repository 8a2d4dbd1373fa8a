package config

import (
	"time"

	"github.com/agentloop/agentloop/pkg/models"
)

// AgentRosterYAML is the on-disk shape of one entry in agents.yaml.
type AgentRosterYAML struct {
	Model      string                 `yaml:"model"`
	Fallback   []string               `yaml:"fallback"`
	Parent     string                 `yaml:"parent,omitempty"`
	Role       string                 `yaml:"role"`
	Timeout    string                 `yaml:"timeout"`
	RateLimit  *RateLimitYAML         `yaml:"rate_limit,omitempty"`
	Capability []string               `yaml:"capabilities,omitempty"`
	MindFiles  []string               `yaml:"mind_files,omitempty"`
}

// RateLimitYAML is the on-disk shape of an agent's rate limit policy.
type RateLimitYAML struct {
	MaxPerMinute int `yaml:"max_per_minute"`
	MaxPerHour   int `yaml:"max_per_hour"`
}

// AgentRosterFile is the top-level shape of agents.yaml.
type AgentRosterFile struct {
	Agents map[string]AgentRosterYAML `yaml:"agents"`
}

// ModelCatalogYAML is the on-disk shape of one entry in model-catalog.yaml.
type ModelCatalogYAML struct {
	ProviderID      string  `yaml:"provider_id"`
	EndpointURL     string  `yaml:"endpoint_url"`
	APIKey          string  `yaml:"api_key"`
	ContextWindow   int     `yaml:"context_window"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
	Tier            string  `yaml:"tier"`
	SupportsTools   bool    `yaml:"supports_tools"`
}

// ModelCatalogFile is the top-level shape of model-catalog.yaml.
type ModelCatalogFile struct {
	Models    map[string]ModelCatalogYAML `yaml:"models"`
	TierOrder []string                    `yaml:"tier_order"`
}

// RuntimeYAML is the top-level shape of agentloop.yaml: process-wide
// runtime knobs that are not per-agent or per-model.
type RuntimeYAML struct {
	Queue    *QueueConfig  `yaml:"queue"`
	Safety   *SafetyYAML   `yaml:"safety"`
	Breaker  *BreakerYAML  `yaml:"breaker"`
	Recovery *RecoveryYAML `yaml:"recovery"`
}

// RecoveryYAML configures the optional degraded-cron side-channel
// notification (spec.md §7's "recovery policy"). Both fields support
// ${ENV_VAR} expansion via the same ExpandEnv pass every other YAML
// value goes through, so the Slack token itself need not live in the
// file — unlike MAX_CONCURRENT/BREAKER_*, this is not one of spec.md
// §6's enumerated env vars, so it is not read directly from the
// environment by the core.
type RecoveryYAML struct {
	SlackToken   string `yaml:"slack_token"`
	SlackChannel string `yaml:"slack_channel"`
}

// SafetyYAML configures the cascade-prevention Safety Layer.
type SafetyYAML struct {
	MaxChildren    int    `yaml:"max_children"`
	MaxDepth       int    `yaml:"max_depth"`
	StaleThreshold string `yaml:"stale_threshold"`
}

// BreakerYAML configures the LLM Gateway's circuit breakers.
type BreakerYAML struct {
	Threshold       int    `yaml:"threshold"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
	MaxCooldown     string `yaml:"max_cooldown"`
}

// QueueConfig holds Agent Pool sizing knobs.
type QueueConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DefaultQueueConfig returns the built-in Agent Pool defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{MaxConcurrent: 5}
}

// DefaultSafety returns the built-in Safety Layer defaults.
func DefaultSafety() SafetyConfig {
	return SafetyConfig{
		MaxChildren:    3,
		MaxDepth:       2,
		StaleThreshold: 60 * time.Minute,
	}
}

// SafetyConfig is the resolved (parsed-duration) Safety Layer config.
type SafetyConfig struct {
	MaxChildren    int
	MaxDepth       int
	StaleThreshold time.Duration
}

// BreakerConfig is the resolved (parsed-duration) breaker config.
type BreakerConfig struct {
	Threshold       int
	CooldownBase    time.Duration
	MaxCooldown     time.Duration
}

// DefaultBreaker returns the built-in breaker defaults (spec.md §4.3).
func DefaultBreaker() BreakerConfig {
	return BreakerConfig{
		Threshold:    5,
		CooldownBase: 60 * time.Second,
		MaxCooldown:  10 * time.Minute,
	}
}

// RecoveryConfig is the resolved recovery-notification config. Both
// fields empty means the notification is disabled.
type RecoveryConfig struct {
	SlackToken   string
	SlackChannel string
}

// modelSpecFromYAML converts the on-disk shape into the domain model.
func modelSpecFromYAML(id string, y ModelCatalogYAML) models.ModelSpec {
	return models.ModelSpec{
		ID:              id,
		ProviderID:      y.ProviderID,
		EndpointURL:     y.EndpointURL,
		APIKey:          y.APIKey,
		ContextWindow:   y.ContextWindow,
		InputCostPer1K:  y.InputCostPer1K,
		OutputCostPer1K: y.OutputCostPer1K,
		Tier:            models.ModelTier(y.Tier),
		SupportsTools:   y.SupportsTools,
	}
}
