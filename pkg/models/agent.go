// Package models holds the plain data types shared by every core package:
// agents, sessions, messages, cron entries, model usage and the in-memory
// bookkeeping types (pheromone scores, circuit breaker state).
package models

import "time"

// AgentRole classifies how an agent participates in the system.
type AgentRole string

// Agent roles.
const (
	RoleCoordinator AgentRole = "coordinator"
	RoleSubAgent    AgentRole = "sub_agent"
	RoleSystem      AgentRole = "system"
)

// RateLimitPolicy bounds how often an agent may be invoked.
type RateLimitPolicy struct {
	MaxPerMinute int `yaml:"max_per_minute"`
	MaxPerHour   int `yaml:"max_per_hour"`
}

// Agent is a named identity bound to a primary model and an ordered
// fallback chain, loaded from static config at startup and on reload.
type Agent struct {
	ID             string          `yaml:"id"`
	PrimaryModel   string          `yaml:"model"`
	FallbackModels []string        `yaml:"fallback"`
	ParentAgentID  string          `yaml:"parent,omitempty"`
	Role           AgentRole       `yaml:"role"`
	Timeout        time.Duration   `yaml:"timeout"`
	RateLimit      RateLimitPolicy `yaml:"rate_limit"`
	CapabilityTags []string        `yaml:"capabilities,omitempty"`
	MindFiles      []string        `yaml:"mind_files,omitempty"`
}

// ModelTier is the cost/capability tier a model belongs to.
type ModelTier string

// Model tiers, in default escalation order.
const (
	TierLocal ModelTier = "local"
	TierFree  ModelTier = "free"
	TierPaid  ModelTier = "paid"
)

// DefaultTierOrder is the escalation order used once an agent's explicit
// fallback chain is exhausted.
var DefaultTierOrder = []ModelTier{TierLocal, TierFree, TierPaid}

// ModelSpec describes one addressable LLM endpoint.
type ModelSpec struct {
	ID              string    `yaml:"id"`
	ProviderID      string    `yaml:"provider_id"`
	EndpointURL     string    `yaml:"endpoint_url"`
	APIKey          string    `yaml:"api_key"`
	ContextWindow   int       `yaml:"context_window"`
	InputCostPer1K  float64   `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64   `yaml:"output_cost_per_1k"`
	Tier            ModelTier `yaml:"tier"`
	SupportsTools   bool      `yaml:"supports_tools"`
}
