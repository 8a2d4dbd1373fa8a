package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentloop/agentloop/pkg/models"
)

// Catalog is the immutable, fully-validated configuration produced by one
// load or reload. A Catalog is never mutated after construction — reload
// builds a brand new one and swaps the pointer atomically in Config.
type Catalog struct {
	Agents   *AgentRegistry
	Models   *ModelRegistry
	Queue    *QueueConfig
	Safety   SafetyConfig
	Breaker  BreakerConfig
	Recovery RecoveryConfig
}

// Stats summarizes a Catalog for health/status reporting.
type Stats struct {
	Agents int
	Models int
}

// Config is the hot-reloadable configuration front door. All readers go
// through Config; Config.catalog is an atomic.Pointer so no in-flight
// request ever observes a half-swapped Catalog.
type Config struct {
	configDir string
	catalog   atomic.Pointer[Catalog]
	mu        sync.Mutex // serializes reloads; readers never block on this
}

// Load reads configDir and returns a ready-to-use Config. Equivalent to
// spec.md's Config Loader `load()`.
func Load(_ context.Context, configDir string) (*Config, error) {
	cat, err := loadCatalog(configDir)
	if err != nil {
		return nil, err
	}
	c := &Config{configDir: configDir}
	c.catalog.Store(cat)
	return c, nil
}

// Reload re-reads configDir and atomically swaps in the new Catalog only
// if it loads and validates cleanly; otherwise the old Catalog is kept
// and the error is returned. Equivalent to spec.md's `reload()`.
func (c *Config) Reload(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cat, err := loadCatalog(c.configDir)
	if err != nil {
		return fmt.Errorf("reload rejected, keeping previous configuration: %w", err)
	}
	c.catalog.Store(cat)
	return nil
}

// current returns the active Catalog. Always non-nil after Load succeeds.
func (c *Config) current() *Catalog {
	return c.catalog.Load()
}

// Agent returns the named agent from the active Catalog.
func (c *Config) Agent(id string) (*models.Agent, error) {
	return c.current().Agents.Get(id)
}

// Model returns the named model spec from the active Catalog.
func (c *Config) Model(id string) (*models.ModelSpec, error) {
	return c.current().Models.Get(id)
}

// Agents returns the agent registry of the active Catalog.
func (c *Config) Agents() *AgentRegistry { return c.current().Agents }

// Models returns the model registry of the active Catalog.
func (c *Config) Models() *ModelRegistry { return c.current().Models }

// ModelsInTier and TierOrder forward to the active Catalog's model
// registry, so *Config alone satisfies pkg/llm's Catalog interface
// without that package importing pkg/config.
func (c *Config) ModelsInTier(tier models.ModelTier) []string { return c.current().Models.ModelsInTier(tier) }

// TierOrder returns the default tier escalation order of the active Catalog.
func (c *Config) TierOrder() []models.ModelTier { return c.current().Models.TierOrder() }

// Queue returns the Agent Pool sizing config of the active Catalog.
func (c *Config) Queue() *QueueConfig { return c.current().Queue }

// Safety returns the Safety Layer config of the active Catalog.
func (c *Config) Safety() SafetyConfig { return c.current().Safety }

// Breaker returns the circuit breaker config of the active Catalog.
func (c *Config) Breaker() BreakerConfig { return c.current().Breaker }

// Recovery returns the degraded-cron notification config of the active Catalog.
func (c *Config) Recovery() RecoveryConfig { return c.current().Recovery }

// Stats summarizes the active Catalog.
func (c *Config) Stats() Stats {
	cat := c.current()
	return Stats{Agents: cat.Agents.Len(), Models: cat.Models.Len()}
}

// ConfigDir returns the directory this Config was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }
