package models

import "time"

// SessionMode controls how a cron entry's sessions are created and reused.
type SessionMode string

// Session modes.
const (
	SessionModeEphemeral     SessionMode = "ephemeral"
	SessionModeSharedByJob   SessionMode = "shared_by_job"
	SessionModeParentOfAgent SessionMode = "parent_of_agent"
)

// CronEntry is a schedule + payload + target agent, fired by the
// Cron Scheduler and producing CronExecution rows.
type CronEntry struct {
	ID          string
	Name        string
	Schedule    string
	Enabled     bool
	Payload     string
	TargetAgent string
	SessionMode SessionMode
	MaxDuration time.Duration
	RetryCount  int
	LastRunAt   *time.Time
	NextRunAt   *time.Time
}

// CronOutcome is the result of one cron fire.
type CronOutcome string

// Cron outcomes.
const (
	OutcomeSuccess            CronOutcome = "success"
	OutcomeFailure            CronOutcome = "failure"
	OutcomeTimeout            CronOutcome = "timeout"
	OutcomeSkippedCBOpen      CronOutcome = "skipped_cb_open"
	OutcomeSkippedOverBudget  CronOutcome = "skipped_over_budget"
	OutcomeSkippedStillActive CronOutcome = "skipped_still_active"
)

// CronExecution is one append-only history row for a CronEntry.
type CronExecution struct {
	ID               string
	CronID           string
	StartedAt        time.Time
	EndedAt          *time.Time
	Outcome          CronOutcome
	ProducedSessionID string
}

// CronEntryState is the runtime state machine position of a CronEntry.
type CronEntryState string

// Cron entry runtime states.
const (
	CronStateIdle    CronEntryState = "idle"
	CronStateFiring  CronEntryState = "firing"
)
