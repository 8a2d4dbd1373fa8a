package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentloop/agentloop/pkg/agentpool"
	"github.com/agentloop/agentloop/pkg/models"
)

const defaultTurnTimeout = 2 * time.Minute

func toSessionResponse(s *models.ChatSession) SessionResponse {
	return SessionResponse{
		ID: s.ID, AgentID: s.AgentID, Type: string(s.Type), Status: string(s.Status),
		CreatedAt: s.CreatedAt, EndedAt: s.EndedAt, InputTokens: s.InputTokens,
		OutputTokens: s.OutputTokens, CostUSD: s.CostUSD, ParentSessionID: s.ParentSessionID,
	}
}

func toMessageResponse(m models.Message) MessageResponse {
	return MessageResponse{
		ID: m.ID, Role: string(m.Role), Content: m.Content, Model: m.Model,
		InputTokens: m.InputTokens, OutputTokens: m.OutputTokens, CostUSD: m.CostUSD,
		LatencyMS: m.LatencyMS, FinishReason: m.FinishReason, CreatedAt: m.CreatedAt,
	}
}

// listSessionsHandler handles GET /api/v1/sessions?agent_id=&limit=.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	agentID := c.QueryParam("agent_id")
	limit := 50
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		limit = n
	}

	sessions, err := s.gw.ListSessions(c.Request().Context(), agentID, limit)
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// createSessionHandler handles POST /api/v1/sessions: submits a task to a
// new session and blocks for the turn's outcome. The response is the
// session record (status and token/cost totals); it does not include the
// assistant's reply text, which is read back through GET
// /api/v1/sessions/:id. No token deltas are published while the turn runs.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" || req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id and prompt are required")
	}

	return s.submitAndWait(c, agentpool.Task{
		AgentID: req.AgentID, Prompt: req.Prompt, Deadline: time.Now().Add(defaultTurnTimeout),
	})
}

// sendMessageHandler handles POST /api/v1/sessions/:id/messages: continues
// an existing active session.
func (s *Server) sendMessageHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	existing, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	return s.submitAndWait(c, agentpool.Task{
		AgentID: existing.AgentID, SessionID: sessionID, Prompt: req.Prompt,
		Deadline: time.Now().Add(defaultTurnTimeout),
	})
}

func (s *Server) submitAndWait(c *echo.Context, task agentpool.Task) error {
	future, err := s.pool.Submit(c.Request().Context(), task)
	if err != nil {
		return mapServiceError(err)
	}

	result, err := future.Wait(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "turn did not complete before request timed out")
	}
	if result.Outcome == agentpool.OutcomeFailed {
		return mapServiceError(result.Err)
	}

	session, err := s.sessions.Get(c.Request().Context(), result.SessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toSessionResponse(session))
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	session, msgs, err := s.sessions.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	msgOut := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		msgOut = append(msgOut, toMessageResponse(m))
	}
	return c.JSON(http.StatusOK, SessionDetailResponse{Session: toSessionResponse(session), Messages: msgOut})
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	cancelled := s.pool.CancelSession(sessionID)
	if !cancelled {
		if err := s.sessions.End(c.Request().Context(), sessionID, models.SessionEnded); err != nil {
			return mapServiceError(err)
		}
	}
	slog.Info("api: session cancelled", "session_id", sessionID, "author", extractAuthor(c))
	return c.JSON(http.StatusOK, CancelResponse{SessionID: sessionID, Cancelled: cancelled})
}

// exportSessionHandler handles GET /api/v1/sessions/:id/export?format=json|transcript.
func (s *Server) exportSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}

	switch format {
	case "transcript":
		c.Response().Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
		return s.sessions.ExportTranscript(c.Request().Context(), sessionID, c.Response())
	case "json":
		c.Response().Header().Set(echo.HeaderContentType, "application/jsonlines")
		return s.sessions.ExportJSONLines(c.Request().Context(), sessionID, c.Response())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json or transcript")
	}
}
