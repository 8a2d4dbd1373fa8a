package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentloop/agentloop/pkg/models"
)

// collectWarnings inspects live breaker state and flags each configured
// agent whose primary and fallback models all have an open or half-open
// breaker (a model with no breaker state yet counts as closed). Tier-order
// models are not checked.
func (s *Server) collectWarnings() []SystemWarning {
	var warnings []SystemWarning

	snapshot := s.gateway.BreakerSnapshot()
	byModel := make(map[string]models.CircuitBreakerState, len(snapshot))
	for _, b := range snapshot {
		byModel[b.Endpoint] = b
	}

	for agentID, agent := range s.cfg.Agents().All() {
		candidates := append([]string{agent.PrimaryModel}, agent.FallbackModels...)
		allOpen := true
		anyOpen := false
		for _, modelID := range candidates {
			if modelID == "" {
				continue
			}
			b, ok := byModel[modelID]
			if !ok || b.State == models.BreakerClosed {
				allOpen = false
				continue
			}
			anyOpen = true
		}
		if allOpen && anyOpen {
			warnings = append(warnings, SystemWarning{
				Component: agentID,
				Message:   fmt.Sprintf("agent %q is degraded: every candidate model's breaker is open", agentID),
			})
		}
	}
	return warnings
}

// systemWarningsHandler handles GET /api/v1/system/warnings.
func (s *Server) systemWarningsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.collectWarnings())
}
