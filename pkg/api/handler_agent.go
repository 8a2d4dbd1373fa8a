package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentloop/agentloop/pkg/models"
)

func (s *Server) toAgentResponse(agent *models.Agent) AgentResponse {
	candidates := append([]string{agent.PrimaryModel}, agent.FallbackModels...)

	snapshot := s.gateway.BreakerSnapshot()
	byModel := make(map[string]models.CircuitBreakerState, len(snapshot))
	for _, b := range snapshot {
		byModel[b.Endpoint] = b
	}

	breakers := make([]BreakerStatus, 0, len(candidates))
	for _, modelID := range candidates {
		if modelID == "" {
			continue
		}
		b, ok := byModel[modelID]
		if !ok {
			breakers = append(breakers, BreakerStatus{ModelID: modelID, State: string(models.BreakerClosed)})
			continue
		}
		breakers = append(breakers, BreakerStatus{
			ModelID: modelID, State: string(b.State), ConsecutiveFailures: b.ConsecutiveFailures,
		})
	}

	return AgentResponse{
		ID: agent.ID, Role: string(agent.Role), PrimaryModel: agent.PrimaryModel,
		FallbackModels: agent.FallbackModels, ParentAgentID: agent.ParentAgentID, Breakers: breakers,
	}
}

// listAgentsHandler handles GET /api/v1/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	agents := s.cfg.Agents().All()
	out := make([]AgentResponse, 0, len(agents))
	for _, agent := range agents {
		out = append(out, s.toAgentResponse(agent))
	}
	return c.JSON(http.StatusOK, out)
}

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agent, err := s.cfg.Agent(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	return c.JSON(http.StatusOK, s.toAgentResponse(agent))
}
