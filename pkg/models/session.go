package models

import "time"

// SessionType classifies why a ChatSession exists.
type SessionType string

// Session types.
const (
	SessionInteractive SessionType = "interactive"
	SessionCron        SessionType = "cron"
	SessionSubAgent    SessionType = "sub_agent"
	SessionSkillExec   SessionType = "skill_exec"
)

// SessionStatus is the lifecycle state of a ChatSession. Transitions are
// monotonic: active -> (ended | failed).
type SessionStatus string

// Session statuses.
const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
	SessionFailed SessionStatus = "failed"
)

// ChatSession is an ordered list of messages plus running totals and
// status, owned by one agent, optionally referencing a parent session.
type ChatSession struct {
	ID                string
	AgentID           string
	Type              SessionType
	Status            SessionStatus
	CreatedAt         time.Time
	EndedAt           *time.Time
	InputTokens       int64
	OutputTokens      int64
	CostUSD           float64
	ExternalSessionID string
	ParentSessionID   string
	Metadata          map[string]any
}

// IsTerminal reports whether the session has left the active state.
func (s *ChatSession) IsTerminal() bool {
	return s.Status == SessionEnded || s.Status == SessionFailed
}
