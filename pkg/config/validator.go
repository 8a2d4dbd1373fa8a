package config

import (
	"fmt"

	"github.com/adhocore/gronx"

	"github.com/agentloop/agentloop/pkg/models"
)

// validate runs every cross-reference and structural check spec.md §4.1
// requires before a Catalog is accepted by Load/Reload.
func validate(cat *Catalog) error {
	if err := validateModelTiers(cat.Models); err != nil {
		return err
	}
	if err := validateAgentModelRefs(cat.Agents, cat.Models); err != nil {
		return err
	}
	if err := validateNoParentCycles(cat.Agents); err != nil {
		return err
	}
	if err := validateRecovery(cat.Recovery); err != nil {
		return err
	}
	return nil
}

// validateRecovery rejects a half-configured recovery block: slack_token
// and slack_channel must be set together or not at all, since one without
// the other can never successfully post.
func validateRecovery(r RecoveryConfig) error {
	if (r.SlackToken == "") != (r.SlackChannel == "") {
		return NewValidationError("runtime", "recovery", "", fmt.Errorf("slack_token and slack_channel must be set together"))
	}
	return nil
}

var validTiers = map[models.ModelTier]bool{
	models.TierLocal: true,
	models.TierFree:  true,
	models.TierPaid:  true,
}

func validateModelTiers(models_ *ModelRegistry) error {
	for id, spec := range models_.All() {
		if !validTiers[spec.Tier] {
			return NewValidationError("model", id, "tier", fmt.Errorf("unknown tier %q", spec.Tier))
		}
	}
	return nil
}

func validateAgentModelRefs(agents *AgentRegistry, models_ *ModelRegistry) error {
	for id, a := range agents.All() {
		if a.PrimaryModel != "" && !models_.Has(a.PrimaryModel) {
			return NewValidationError("agent", id, "model", fmt.Errorf("references unknown model %q", a.PrimaryModel))
		}
		for _, fb := range a.FallbackModels {
			if !models_.Has(fb) {
				return NewValidationError("agent", id, "fallback", fmt.Errorf("references unknown model %q", fb))
			}
		}
	}
	return nil
}

// validateNoParentCycles walks each agent's parent chain; a cycle is a
// ConfigInvalid error rather than an infinite loop at runtime.
func validateNoParentCycles(agents *AgentRegistry) error {
	for id := range agents.All() {
		visited := map[string]bool{id: true}
		cur := id
		for {
			a, err := agents.Get(cur)
			if err != nil {
				// Dangling parent ref: agent.parent points nowhere.
				break
			}
			if a.ParentAgentID == "" {
				break
			}
			if visited[a.ParentAgentID] {
				return NewValidationError("agent", id, "parent", fmt.Errorf("cycle detected via %q", a.ParentAgentID))
			}
			visited[a.ParentAgentID] = true
			cur = a.ParentAgentID
		}
	}
	return nil
}

// ValidateCronExpression parses a 5- or 6-field cron expression and
// returns ConfigInvalid if it cannot be parsed. The HTTP API's cron
// upsert handler calls it before an entry is persisted.
func ValidateCronExpression(expr string) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("%w: invalid cron expression %q", ErrConfigInvalid, expr)
	}
	return nil
}
