package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// exportedMessage is the stable on-the-wire shape for one line of a
// JSON-lines export. Field names are deliberately distinct from
// models.Message's Go-side naming so the export format does not change
// if the internal struct is refactored.
type exportedMessage struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int64     `json:"input_tokens,omitempty"`
	OutputTokens int64     `json:"output_tokens,omitempty"`
	CostUSD      float64   `json:"cost_usd,omitempty"`
	LatencyMS    int64     `json:"latency_ms,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExportJSONLines writes one JSON object per message, newline-delimited,
// in chronological order.
func (s *Store) ExportJSONLines(ctx context.Context, sessionID string, w io.Writer) error {
	_, msgs, err := s.History(ctx, sessionID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, m := range msgs {
		line := exportedMessage{
			ID: m.ID, Role: string(m.Role), Content: m.Content, Model: m.Model,
			InputTokens: m.InputTokens, OutputTokens: m.OutputTokens, CostUSD: m.CostUSD,
			LatencyMS: m.LatencyMS, FinishReason: m.FinishReason, CreatedAt: m.CreatedAt,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
	}
	return nil
}

// ExportTranscript writes a human-readable "role: content" transcript,
// one message per paragraph, in chronological order.
func (s *Store) ExportTranscript(ctx context.Context, sessionID string, w io.Writer) error {
	session, msgs, err := s.History(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "session %s (agent %s, %s)\n\n", session.ID, session.AgentID, session.Status); err != nil {
		return err
	}
	for _, m := range msgs {
		if _, err := fmt.Fprintf(w, "[%s] %s:\n%s\n\n", m.CreatedAt.Format(time.RFC3339), m.Role, m.Content); err != nil {
			return err
		}
	}
	return nil
}
