package api

import "time"

// SessionResponse is the wire shape of one ChatSession.
type SessionResponse struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	Type            string    `json:"type"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	CostUSD         float64   `json:"cost_usd"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
}

// MessageResponse is the wire shape of one Message.
type MessageResponse struct {
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

// SessionDetailResponse is returned by GET /api/v1/sessions/:id.
type SessionDetailResponse struct {
	Session  SessionResponse   `json:"session"`
	Messages []MessageResponse `json:"messages"`
}

// CancelResponse is returned by POST /api/v1/sessions/:id/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Cancelled bool   `json:"cancelled"`
}

// CronEntryResponse is the wire shape of one CronEntry.
type CronEntryResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Enabled     bool       `json:"enabled"`
	TargetAgent string     `json:"target_agent"`
	SessionMode string     `json:"session_mode"`
	MaxDuration string     `json:"max_duration"`
	RetryCount  int        `json:"retry_count"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
}

// CronExecutionResponse is the wire shape of one CronExecution.
type CronExecutionResponse struct {
	ID                string     `json:"id"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	Outcome           string     `json:"outcome"`
	ProducedSessionID string     `json:"produced_session_id,omitempty"`
}

// AgentResponse is the wire shape of one agent's static config plus its
// live breaker status for each model in its candidate chain.
type AgentResponse struct {
	ID             string            `json:"id"`
	Role           string            `json:"role"`
	PrimaryModel   string            `json:"primary_model"`
	FallbackModels []string          `json:"fallback_models,omitempty"`
	ParentAgentID  string            `json:"parent_agent_id,omitempty"`
	Breakers       []BreakerStatus   `json:"breakers,omitempty"`
}

// BreakerStatus reports one model endpoint's circuit breaker state.
type BreakerStatus struct {
	ModelID             string `json:"model_id"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// TraceEntryResponse summarizes one outbound LLM call for the session
// trace list (the first of the API's two-level loading pattern).
type TraceEntryResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Success   bool      `json:"success"`
	LatencyMS int64     `json:"latency_ms"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// TraceDetailResponse is the full record behind one trace entry (the
// second, on-demand level of the two-level loading pattern).
type TraceDetailResponse struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMS    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SystemWarning flags a degraded condition worth surfacing to an operator.
type SystemWarning struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string          `json:"status"`
	Warnings []SystemWarning `json:"warnings,omitempty"`
}
