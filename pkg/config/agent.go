package config

import (
	"fmt"

	"github.com/agentloop/agentloop/pkg/models"
)

// AgentRegistry is an immutable, read-only lookup of agents loaded from
// the roster file. A new registry is built on every load/reload; nothing
// mutates one in place.
type AgentRegistry struct {
	agents map[string]*models.Agent
}

// NewAgentRegistry builds a registry from a parsed agent map.
func NewAgentRegistry(agents map[string]*models.Agent) *AgentRegistry {
	return &AgentRegistry{agents: agents}
}

// Get returns the agent by id, or ErrAgentNotFound.
func (r *AgentRegistry) Get(id string) (*models.Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// Has reports whether the agent id is registered.
func (r *AgentRegistry) Has(id string) bool {
	_, ok := r.agents[id]
	return ok
}

// All returns every registered agent, keyed by id.
func (r *AgentRegistry) All() map[string]*models.Agent {
	return r.agents
}

// Len returns the number of registered agents.
func (r *AgentRegistry) Len() int { return len(r.agents) }

// ModelRegistry is an immutable, read-only lookup of models loaded from
// the model catalog, plus the default tier escalation order.
type ModelRegistry struct {
	models    map[string]*models.ModelSpec
	tierOrder []models.ModelTier
}

// NewModelRegistry builds a registry from a parsed model map and tier order.
func NewModelRegistry(specs map[string]*models.ModelSpec, tierOrder []models.ModelTier) *ModelRegistry {
	if len(tierOrder) == 0 {
		tierOrder = models.DefaultTierOrder
	}
	return &ModelRegistry{models: specs, tierOrder: tierOrder}
}

// Get returns the model spec by id, or ErrModelNotFound.
func (r *ModelRegistry) Get(id string) (*models.ModelSpec, error) {
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// Has reports whether the model id is registered.
func (r *ModelRegistry) Has(id string) bool {
	_, ok := r.models[id]
	return ok
}

// All returns every registered model, keyed by id.
func (r *ModelRegistry) All() map[string]*models.ModelSpec {
	return r.models
}

// Len returns the number of registered models.
func (r *ModelRegistry) Len() int { return len(r.models) }

// TierOrder returns the default tier escalation order (local -> free -> paid
// unless overridden in model-catalog.yaml).
func (r *ModelRegistry) TierOrder() []models.ModelTier {
	return r.tierOrder
}

// ModelsInTier returns every model id belonging to the given tier, in
// map-iteration order stabilized by the caller (the gateway sorts for
// determinism where needed).
func (r *ModelRegistry) ModelsInTier(tier models.ModelTier) []string {
	var out []string
	for id, spec := range r.models {
		if spec.Tier == tier {
			out = append(out, id)
		}
	}
	return out
}
