package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getTraceListHandler handles GET /api/v1/sessions/:id/trace: the first
// level of the two-level loading pattern, a lightweight per-call summary
// list. Callers fetch the full record for one call via getTraceDetailHandler
// only when a user actually expands it.
func (s *Server) getTraceListHandler(c *echo.Context) error {
	usage, err := s.gw.ListModelUsageBySession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]TraceEntryResponse, 0, len(usage))
	for _, u := range usage {
		out = append(out, TraceEntryResponse{
			ID: u.ID, Model: u.Model, Success: u.Success, LatencyMS: u.LatencyMS,
			CostUSD: u.CostUSD, CreatedAt: u.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// getTraceDetailHandler handles GET /api/v1/sessions/:id/trace/llm/:usage_id:
// the second, on-demand level of the two-level loading pattern.
func (s *Server) getTraceDetailHandler(c *echo.Context) error {
	usageID := c.Param("usage_id")
	usage, err := s.gw.ListModelUsageBySession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	for _, u := range usage {
		if u.ID == usageID {
			return c.JSON(http.StatusOK, TraceDetailResponse{
				ID: u.ID, Model: u.Model, Provider: u.Provider, InputTokens: u.InputTokens,
				OutputTokens: u.OutputTokens, CostUSD: u.CostUSD, LatencyMS: u.LatencyMS,
				Success: u.Success, ErrorMessage: u.ErrorMessage, CreatedAt: u.CreatedAt,
			})
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "trace entry not found")
}
