package events

// SessionStatusPayload is published when a session transitions state.
type SessionStatusPayload struct {
	Type      string `json:"type"` // always EventTypeSessionStatus
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// MessageAppendedPayload is published once a message's final content is
// persisted. Partial/streaming tokens are never published here — only
// the Agent Pool decides a turn is complete.
type MessageAppendedPayload struct {
	Type      string `json:"type"` // always EventTypeMessageAppended
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Model     string `json:"model,omitempty"`
	Timestamp string `json:"timestamp"`
}

// CronExecutionPayload is published once a cron fire finishes.
type CronExecutionPayload struct {
	Type              string `json:"type"` // always EventTypeCronExecution
	CronID            string `json:"cron_id"`
	Outcome           string `json:"outcome"`
	ProducedSessionID string `json:"produced_session_id,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// StreamChunkPayload is a transient, best-effort token delta; never
// persisted and never replayed to a reconnecting client.
type StreamChunkPayload struct {
	Type      string `json:"type"` // always EventTypeStreamChunk
	SessionID string `json:"session_id"`
	Delta     string `json:"delta"`
	Timestamp string `json:"timestamp"`
}
