package models

import "time"

// BreakerState is one of the three circuit breaker states.
type BreakerState string

// Breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerState is process-wide, in-memory, per named endpoint
// (a model id or another provider such as the embedding service). It is
// never persisted — the runtime exclusively owns it.
type CircuitBreakerState struct {
	Endpoint            string
	ConsecutiveFailures int
	State               BreakerState
	OpenedAt            time.Time
	HalfOpenProbeAt     time.Time
	CooldownAttempt     int // number of times this breaker has reopened, drives doubling cooldown
}
