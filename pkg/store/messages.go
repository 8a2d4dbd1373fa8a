package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/pkg/models"
)

// AppendMessage inserts a message into a session's ordered history.
// The session must still be active. A second append with the same
// (session, role, content) is a no-op that returns the id of the
// original message, not an error — retried LLM calls and re-delivered
// cron payloads must not double-post. A newly inserted message's tokens
// and cost are added to the session's running totals.
func (g *Gateway) AppendMessage(ctx context.Context, msg models.Message) (string, error) {
	session, err := g.GetSession(ctx, msg.SessionID)
	if err != nil {
		return "", err
	}
	if session.IsTerminal() {
		return "", fmt.Errorf("%w: session %s", ErrSessionClosed, msg.SessionID)
	}

	if msg.ContentHash == 0 {
		msg.ContentHash = ContentHash(msg.Role, msg.Content)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	toolCallsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return "", fmt.Errorf("%w: marshal tool calls: %v", ErrConflict, err)
	}

	_, err = g.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, content_hash, model,
		                       input_tokens, output_tokens, cost_usd, latency_ms,
		                       finish_reason, tool_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, msg.ID, msg.SessionID, string(msg.Role), msg.Content, int64(msg.ContentHash), nullIfEmpty(msg.Model),
		msg.InputTokens, msg.OutputTokens, msg.CostUSD, msg.LatencyMS, nullIfEmpty(msg.FinishReason),
		toolCallsJSON, msg.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			existingID, findErr := g.findMessageByHash(ctx, msg.SessionID, msg.ContentHash)
			if findErr != nil {
				return "", findErr
			}
			return existingID, nil
		}
		if isForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: session %s does not exist", ErrConflict, msg.SessionID)
		}
		return "", classifyErr(err)
	}
	if msg.InputTokens != 0 || msg.OutputTokens != 0 || msg.CostUSD != 0 {
		if err := g.AddUsage(ctx, msg.SessionID, msg.InputTokens, msg.OutputTokens, msg.CostUSD); err != nil {
			return "", err
		}
	}
	return msg.ID, nil
}

func (g *Gateway) findMessageByHash(ctx context.Context, sessionID string, hash uint64) (string, error) {
	var id string
	err := g.db.QueryRowContext(ctx, `
		SELECT id FROM messages WHERE session_id = $1 AND content_hash = $2
	`, sessionID, int64(hash)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: duplicate insert raced but no row found for session %s", ErrConflict, sessionID)
	}
	if err != nil {
		return "", classifyErr(err)
	}
	return id, nil
}

// ListMessages returns a session's messages in chronological order.
func (g *Gateway) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, content_hash, COALESCE(model, ''),
		       COALESCE(input_tokens, 0), COALESCE(output_tokens, 0), cost_usd, latency_ms,
		       COALESCE(finish_reason, ''), tool_calls, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		var hash int64
		var toolCallsJSON []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &hash, &m.Model,
			&m.InputTokens, &m.OutputTokens, &m.CostUSD, &m.LatencyMS, &m.FinishReason,
			&toolCallsJSON, &m.CreatedAt); err != nil {
			return nil, classifyErr(err)
		}
		m.Role = models.MessageRole(role)
		m.ContentHash = uint64(hash)
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("%w: unmarshal tool calls: %v", ErrConflict, err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
