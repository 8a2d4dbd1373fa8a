package models

import "time"

// ModelUsage is one append-only record of an outbound LLM call.
type ModelUsage struct {
	ID           string
	Model        string
	Provider     string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	LatencyMS    int64
	Success      bool
	ErrorMessage string
	SessionID    string
	CreatedAt    time.Time
}
