package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentloop/agentloop/pkg/agentpool"
	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/models"
	"github.com/agentloop/agentloop/pkg/safety"
)

func isDegradedErr(err error) bool {
	return errors.Is(err, safety.ErrDegraded)
}

func toCronResponse(e *models.CronEntry) CronEntryResponse {
	return CronEntryResponse{
		ID: e.ID, Name: e.Name, Schedule: e.Schedule, Enabled: e.Enabled,
		TargetAgent: e.TargetAgent, SessionMode: string(e.SessionMode),
		MaxDuration: e.MaxDuration.String(), RetryCount: e.RetryCount,
		LastRunAt: e.LastRunAt, NextRunAt: e.NextRunAt,
	}
}

// listCronHandler handles GET /api/v1/cron.
func (s *Server) listCronHandler(c *echo.Context) error {
	entries, err := s.gw.ListCrons(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	out := make([]CronEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toCronResponse(&entries[i]))
	}
	return c.JSON(http.StatusOK, out)
}

// getCronHandler handles GET /api/v1/cron/:id.
func (s *Server) getCronHandler(c *echo.Context) error {
	entry, err := s.gw.GetCron(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toCronResponse(entry))
}

// upsertCronHandler handles PUT /api/v1/cron/:id. Wakes the scheduler so
// a newly added, edited, enabled or disabled entry takes effect without
// waiting for the next poll tick.
func (s *Server) upsertCronHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		id = uuid.New().String()
	}

	var req UpsertCronRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Schedule == "" || req.TargetAgent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule and target_agent are required")
	}
	if err := config.ValidateCronExpression(req.Schedule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !s.cfg.Agents().Has(req.TargetAgent) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown target_agent")
	}

	maxDuration, err := time.ParseDuration(req.MaxDuration)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "max_duration must be a Go duration string")
	}

	entry := models.CronEntry{
		ID: id, Name: req.Name, Schedule: req.Schedule, Enabled: req.Enabled,
		Payload: req.Payload, TargetAgent: req.TargetAgent,
		SessionMode: models.SessionMode(req.SessionMode), MaxDuration: maxDuration, RetryCount: req.RetryCount,
	}
	if err := s.gw.UpsertCron(c.Request().Context(), entry); err != nil {
		return mapServiceError(err)
	}
	s.scheduler.Wake()

	return c.JSON(http.StatusOK, toCronResponse(&entry))
}

// deleteCronHandler handles DELETE /api/v1/cron/:id.
func (s *Server) deleteCronHandler(c *echo.Context) error {
	id := c.Param("id")
	if err := s.gw.DeleteCron(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	s.scheduler.Wake()
	return c.NoContent(http.StatusNoContent)
}

// cronHistoryHandler handles GET /api/v1/cron/:id/history.
func (s *Server) cronHistoryHandler(c *echo.Context) error {
	history, err := s.gw.ListCronHistory(c.Request().Context(), c.Param("id"), 0)
	if err != nil {
		return mapServiceError(err)
	}
	out := make([]CronExecutionResponse, 0, len(history))
	for _, e := range history {
		out = append(out, CronExecutionResponse{
			ID: e.ID, StartedAt: e.StartedAt, EndedAt: e.EndedAt,
			Outcome: string(e.Outcome), ProducedSessionID: e.ProducedSessionID,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// triggerCronHandler handles POST /api/v1/cron/:id/trigger: fires an
// entry immediately, independent of its schedule, and blocks for the
// outcome. Recorded into the same execution history as a normal fire.
func (s *Server) triggerCronHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	entry, err := s.gw.GetCron(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}

	started := time.Now().UTC()
	task := agentpool.Task{
		AgentID: entry.TargetAgent, Prompt: entry.Payload, TaskTypeTag: "cron",
		Deadline: started.Add(entry.MaxDuration),
	}

	future, submitErr := s.pool.Submit(ctx, task)
	outcome := models.OutcomeSuccess
	producedSessionID := ""

	if submitErr != nil {
		outcome = models.OutcomeFailure
		if isDegradedErr(submitErr) {
			outcome = models.OutcomeSkippedCBOpen
		}
	} else {
		result, waitErr := future.Wait(ctx)
		if waitErr != nil {
			outcome = models.OutcomeTimeout
		} else {
			producedSessionID = result.SessionID
			switch result.Outcome {
			case agentpool.OutcomeFailed:
				outcome = models.OutcomeFailure
			case agentpool.OutcomeCancelled:
				outcome = models.OutcomeTimeout
			}
		}
	}

	ended := time.Now().UTC()
	execErr := s.gw.AppendCronHistory(ctx, models.CronExecution{
		CronID: entry.ID, StartedAt: started, EndedAt: &ended,
		Outcome: outcome, ProducedSessionID: producedSessionID,
	})
	if execErr != nil {
		return mapServiceError(execErr)
	}
	_ = s.gw.TrimCronHistory(ctx, entry.ID)

	return c.JSON(http.StatusOK, CronExecutionResponse{
		StartedAt: started, EndedAt: &ended, Outcome: string(outcome), ProducedSessionID: producedSessionID,
	})
}
