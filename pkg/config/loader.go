package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/agentloop/agentloop/pkg/models"
)

// loadCatalog loads model-catalog.yaml, agents.yaml and agentloop.yaml from
// configDir, merges them with built-in defaults and validates the result.
// Mirrors the teacher's config.Initialize: load, then validate, return.
func loadCatalog(configDir string) (*Catalog, error) {
	rosterFile, err := loadAgentRoster(configDir)
	if err != nil {
		return nil, NewLoadError("agents.yaml", err)
	}

	catalogFile, err := loadModelCatalog(configDir)
	if err != nil {
		return nil, NewLoadError("model-catalog.yaml", err)
	}

	runtimeFile, err := loadRuntimeYAML(configDir)
	if err != nil {
		return nil, NewLoadError("agentloop.yaml", err)
	}

	agents, err := buildAgents(rosterFile)
	if err != nil {
		return nil, err
	}
	modelSpecs, tierOrder, err := buildModels(catalogFile)
	if err != nil {
		return nil, err
	}

	queueCfg := DefaultQueueConfig()
	if runtimeFile.Queue != nil && runtimeFile.Queue.MaxConcurrent > 0 {
		if err := mergo.Merge(queueCfg, runtimeFile.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merging queue config: %w", err)
		}
	}

	safetyCfg, err := resolveSafety(runtimeFile.Safety)
	if err != nil {
		return nil, err
	}
	breakerCfg, err := resolveBreaker(runtimeFile.Breaker)
	if err != nil {
		return nil, err
	}

	cat := &Catalog{
		Agents:   NewAgentRegistry(agents),
		Models:   NewModelRegistry(modelSpecs, tierOrder),
		Queue:    queueCfg,
		Safety:   safetyCfg,
		Breaker:  breakerCfg,
		Recovery: resolveRecovery(runtimeFile.Recovery),
	}

	if err := applyEnvOverrides(cat); err != nil {
		return nil, err
	}

	if err := validate(cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// applyEnvOverrides layers the enumerated runtime env vars (spec.md §6's
// "Environment" list) on top of whatever agentloop.yaml set, the same way
// ExpandEnv layers env vars into the YAML files themselves. Unset vars are
// no-ops; every other env var is ignored by the core.
func applyEnvOverrides(cat *Catalog) error {
	if v := os.Getenv("MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("runtime", "MAX_CONCURRENT", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		cat.Queue.MaxConcurrent = n
	}
	if v := os.Getenv("BREAKER_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("runtime", "BREAKER_THRESHOLD", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		cat.Breaker.Threshold = n
	}
	if v := os.Getenv("BREAKER_COOLDOWN_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("runtime", "BREAKER_COOLDOWN_SECONDS", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		cat.Breaker.CooldownBase = time.Duration(n) * time.Second
	}
	if v := os.Getenv("STALE_TIMEOUT_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("runtime", "STALE_TIMEOUT_MINUTES", "", fmt.Errorf("must be a positive integer, got %q", v))
		}
		cat.Safety.StaleThreshold = time.Duration(n) * time.Minute
	}
	return nil
}

func readYAMLFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // absent file is valid; caller sees zero-value out
		}
		return err
	}
	data = ExpandEnv(data)
	return yaml.Unmarshal(data, out)
}

func loadAgentRoster(configDir string) (*AgentRosterFile, error) {
	f := &AgentRosterFile{}
	if err := readYAMLFile(filepath.Join(configDir, "agents.yaml"), f); err != nil {
		return nil, err
	}
	return f, nil
}

func loadModelCatalog(configDir string) (*ModelCatalogFile, error) {
	f := &ModelCatalogFile{}
	if err := readYAMLFile(filepath.Join(configDir, "model-catalog.yaml"), f); err != nil {
		return nil, err
	}
	return f, nil
}

func loadRuntimeYAML(configDir string) (*RuntimeYAML, error) {
	f := &RuntimeYAML{}
	if err := readYAMLFile(filepath.Join(configDir, "agentloop.yaml"), f); err != nil {
		return nil, err
	}
	return f, nil
}

func buildAgents(f *AgentRosterFile) (map[string]*models.Agent, error) {
	out := make(map[string]*models.Agent, len(f.Agents))
	for id, y := range f.Agents {
		timeout := 60 * time.Second
		if y.Timeout != "" {
			d, err := time.ParseDuration(y.Timeout)
			if err != nil {
				return nil, NewValidationError("agent", id, "timeout", err)
			}
			timeout = d
		}
		role := models.RoleCoordinator
		if y.Role != "" {
			role = models.AgentRole(y.Role)
		}
		a := &models.Agent{
			ID:             id,
			PrimaryModel:   y.Model,
			FallbackModels: y.Fallback,
			ParentAgentID:  y.Parent,
			Role:           role,
			Timeout:        timeout,
			CapabilityTags: y.Capability,
			MindFiles:      y.MindFiles,
		}
		if y.RateLimit != nil {
			a.RateLimit = models.RateLimitPolicy{
				MaxPerMinute: y.RateLimit.MaxPerMinute,
				MaxPerHour:   y.RateLimit.MaxPerHour,
			}
		}
		out[id] = a
	}
	return out, nil
}

func buildModels(f *ModelCatalogFile) (map[string]*models.ModelSpec, []models.ModelTier, error) {
	out := make(map[string]*models.ModelSpec, len(f.Models))
	for id, y := range f.Models {
		spec := modelSpecFromYAML(id, y)
		out[id] = &spec
	}
	var tierOrder []models.ModelTier
	for _, t := range f.TierOrder {
		tierOrder = append(tierOrder, models.ModelTier(t))
	}
	return out, tierOrder, nil
}

func resolveSafety(y *SafetyYAML) (SafetyConfig, error) {
	cfg := DefaultSafety()
	if y == nil {
		return cfg, nil
	}
	if y.MaxChildren > 0 {
		cfg.MaxChildren = y.MaxChildren
	}
	if y.MaxDepth > 0 {
		cfg.MaxDepth = y.MaxDepth
	}
	if y.StaleThreshold != "" {
		d, err := time.ParseDuration(y.StaleThreshold)
		if err != nil {
			return cfg, NewValidationError("safety", "stale_threshold", "", err)
		}
		cfg.StaleThreshold = d
	}
	return cfg, nil
}

func resolveRecovery(y *RecoveryYAML) RecoveryConfig {
	if y == nil {
		return RecoveryConfig{}
	}
	return RecoveryConfig{SlackToken: y.SlackToken, SlackChannel: y.SlackChannel}
}

func resolveBreaker(y *BreakerYAML) (BreakerConfig, error) {
	cfg := DefaultBreaker()
	if y == nil {
		return cfg, nil
	}
	if y.Threshold > 0 {
		cfg.Threshold = y.Threshold
	}
	if y.CooldownSeconds > 0 {
		cfg.CooldownBase = time.Duration(y.CooldownSeconds) * time.Second
	}
	if y.MaxCooldown != "" {
		d, err := time.ParseDuration(y.MaxCooldown)
		if err != nil {
			return cfg, NewValidationError("breaker", "max_cooldown", "", err)
		}
		cfg.MaxCooldown = d
	}
	return cfg, nil
}
