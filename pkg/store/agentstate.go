package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TouchAgentState records the current time as the agent's last_used_at.
func (g *Gateway) TouchAgentState(ctx context.Context, agentID string) error {
	now := time.Now().UTC()
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO agent_state (agent_id, last_used_at)
		VALUES ($1, $2)
		ON CONFLICT (agent_id) DO UPDATE SET last_used_at = EXCLUDED.last_used_at
	`, agentID, now)
	return classifyErr(err)
}

// LastUsedAt returns when the agent was last dispatched, or the zero
// time if it has never been touched.
func (g *Gateway) LastUsedAt(ctx context.Context, agentID string) (time.Time, error) {
	var t time.Time
	err := g.db.QueryRowContext(ctx, `
		SELECT last_used_at FROM agent_state WHERE agent_id = $1
	`, agentID).Scan(&t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, classifyErr(err)
	}
	return t, nil
}
