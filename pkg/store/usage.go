package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/pkg/models"
)

// RecordModelUsage appends one LLM call outcome. Called by the LLM
// Gateway after every attempt, including failed ones (Success=false),
// so cost and failure-rate reporting stay accurate regardless of
// circuit breaker state.
func (g *Gateway) RecordModelUsage(ctx context.Context, u models.ModelUsage) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	var sessionID any
	if u.SessionID != "" {
		sessionID = u.SessionID
	}
	var errMsg any
	if u.ErrorMessage != "" {
		errMsg = u.ErrorMessage
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO model_usage (id, model, provider, input_tokens, output_tokens,
		                          cost_usd, latency_ms, success, error_message, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Model, u.Provider, u.InputTokens, u.OutputTokens, u.CostUSD,
		u.LatencyMS, u.Success, errMsg, sessionID, u.CreatedAt)
	return classifyErr(err)
}

// ListModelUsageBySession returns a session's outbound LLM calls, in
// call order, for the HTTP API's trace endpoints.
func (g *Gateway) ListModelUsageBySession(ctx context.Context, sessionID string) ([]models.ModelUsage, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, model, provider, input_tokens, output_tokens, cost_usd,
		       latency_ms, success, COALESCE(error_message, ''), created_at
		FROM model_usage WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []models.ModelUsage
	for rows.Next() {
		var u models.ModelUsage
		if err := rows.Scan(&u.ID, &u.Model, &u.Provider, &u.InputTokens, &u.OutputTokens,
			&u.CostUSD, &u.LatencyMS, &u.Success, &u.ErrorMessage, &u.CreatedAt); err != nil {
			return nil, classifyErr(err)
		}
		u.SessionID = sessionID
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}
