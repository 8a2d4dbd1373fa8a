package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/pkg/models"
)

// CreateSession inserts a new active session. parentSessionID may be
// empty for top-level sessions; metadata may be nil.
func (g *Gateway) CreateSession(ctx context.Context, agentID string, sessionType models.SessionType, parentSessionID string, metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("%w: marshal metadata: %v", ErrConflict, err)
	}

	id := uuid.New().String()
	var parent any
	if parentSessionID != "" {
		parent = parentSessionID
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, agent_id, session_type, status, parent_session_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, agentID, string(sessionType), string(models.SessionActive), parent, metaJSON)
	if err != nil {
		if isForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: parent session %q does not exist", ErrConflict, parentSessionID)
		}
		return "", classifyErr(err)
	}
	return id, nil
}

// GetSession loads a session by id.
func (g *Gateway) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, agent_id, session_type, status, created_at, ended_at,
		       input_tokens, output_tokens, cost_usd, external_session_id,
		       COALESCE(parent_session_id::text, ''), metadata
		FROM chat_sessions WHERE id = $1
	`, sessionID)

	s := &models.ChatSession{}
	var sessionType, status string
	var endedAt sql.NullTime
	var externalID sql.NullString
	var metaJSON []byte

	err := row.Scan(&s.ID, &s.AgentID, &sessionType, &status, &s.CreatedAt, &endedAt,
		&s.InputTokens, &s.OutputTokens, &s.CostUSD, &externalID, &s.ParentSessionID, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, classifyErr(err)
	}

	s.Type = models.SessionType(sessionType)
	s.Status = models.SessionStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	s.ExternalSessionID = externalID.String
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("%w: unmarshal metadata: %v", ErrConflict, err)
		}
	}
	return s, nil
}

// EndSession transitions a session to a terminal status. It is idempotent:
// ending an already-terminal session with the same status is a no-op;
// ending it with a different terminal status or re-opening it is a
// conflict.
func (g *Gateway) EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if status != models.SessionEnded && status != models.SessionFailed {
		return fmt.Errorf("%w: end status must be terminal, got %q", ErrConflict, status)
	}

	existing, err := g.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if existing.IsTerminal() {
		if existing.Status == status {
			return nil
		}
		return fmt.Errorf("%w: session %s already ended as %q", ErrConflict, sessionID, existing.Status)
	}

	res, err := g.db.ExecContext(ctx, `
		UPDATE chat_sessions SET status = $1, ended_at = $2
		WHERE id = $3 AND status = $4
	`, string(status), time.Now().UTC(), sessionID, string(models.SessionActive))
	if err != nil {
		return classifyErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyErr(err)
	}
	if n == 0 {
		// Lost the race against a concurrent EndSession; re-check rather
		// than surface a spurious conflict.
		again, err := g.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if again.Status == status {
			return nil
		}
		return fmt.Errorf("%w: session %s already ended as %q", ErrConflict, sessionID, again.Status)
	}
	return nil
}

// AddUsage accumulates token/cost totals on a session. AppendMessage calls
// it for every newly inserted message that carries tokens or cost.
func (g *Gateway) AddUsage(ctx context.Context, sessionID string, inputTokens, outputTokens int64, costUSD float64) error {
	res, err := g.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET input_tokens = input_tokens + $1, output_tokens = output_tokens + $2, cost_usd = cost_usd + $3
		WHERE id = $4
	`, inputTokens, outputTokens, costUSD, sessionID)
	if err != nil {
		return classifyErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// ListStaleActiveSessions returns active sessions created before the
// given cutoff, for the Safety Layer's stale-session sweep.
func (g *Gateway) ListStaleActiveSessions(ctx context.Context, cutoff time.Time) ([]models.ChatSession, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, agent_id, session_type, status, created_at
		FROM chat_sessions WHERE status = $1 AND created_at < $2
	`, string(models.SessionActive), cutoff)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		var sessionType, status string
		if err := rows.Scan(&s.ID, &s.AgentID, &sessionType, &status, &s.CreatedAt); err != nil {
			return nil, classifyErr(err)
		}
		s.Type = models.SessionType(sessionType)
		s.Status = models.SessionStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

// ListSessions returns sessions in reverse chronological order, optionally
// filtered to one agent, for the HTTP API's listing endpoint.
func (g *Gateway) ListSessions(ctx context.Context, agentID string, limit int) ([]models.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, agent_id, session_type, status, created_at, ended_at,
		       input_tokens, output_tokens, cost_usd, COALESCE(parent_session_id::text, '')
		FROM chat_sessions
	`
	args := []any{}
	if agentID != "" {
		query += " WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2"
		args = append(args, agentID, limit)
	} else {
		query += " ORDER BY created_at DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		var sessionType, status string
		var endedAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.AgentID, &sessionType, &status, &s.CreatedAt, &endedAt,
			&s.InputTokens, &s.OutputTokens, &s.CostUSD, &s.ParentSessionID); err != nil {
			return nil, classifyErr(err)
		}
		s.Type = models.SessionType(sessionType)
		s.Status = models.SessionStatus(status)
		if endedAt.Valid {
			t := endedAt.Time
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

func isForeignKeyViolation(err error) bool {
	return pgErrCode(err) == "23503"
}
