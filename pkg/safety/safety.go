// Package safety is the cascade-prevention Safety Layer: process-wide
// rules applied before any pool submission or sub-agent spawn.
//
// It exists because of a real incident in which a failing upstream API
// caused a cascade — cron tick spawning a fallback sub-agent against
// the same dead endpoint, spawning another, across multiple ticks,
// accumulating 135 sessions and millions of tokens within hours. These
// rules make that failure mode into a flat "degraded, do nothing" state
// instead.
package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/models"
)

var (
	// ErrDegraded is returned when the CB-open veto fires: the target
	// agent's entire model chain is breaker-open.
	ErrDegraded = errors.New("safety: agent degraded, all candidate breakers open")

	// ErrBudgetExceeded is returned when a spawn would exceed max
	// children or max depth. Returned to the caller as a hard error,
	// never silently escalated.
	ErrBudgetExceeded = errors.New("safety: sub-agent spawn budget exceeded")
)

// BreakerChecker reports whether a model's circuit breaker is currently
// refusing calls. *llm.Gateway satisfies this.
type BreakerChecker interface {
	BreakerOpen(modelID string) bool
}

// StaleLister finds active sessions older than a cutoff, and SessionEnder
// ends them. *store.Gateway satisfies both.
type StaleLister interface {
	ListStaleActiveSessions(ctx context.Context, cutoff time.Time) ([]models.ChatSession, error)
}

type SessionEnder interface {
	EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error
}

// Layer is the Safety Layer.
type Layer struct {
	cfg      config.SafetyConfig
	breakers BreakerChecker

	mu       sync.Mutex
	children map[string][]string // parent session id -> child session ids
}

// New builds a Safety Layer over the given config and breaker checker.
func New(cfg config.SafetyConfig, breakers BreakerChecker) *Layer {
	return &Layer{
		cfg:      cfg,
		breakers: breakers,
		children: make(map[string][]string),
	}
}

// CheckCBOpen vetoes a submission only if the agent's primary model, every
// fallback and every tier-order model in tierModels are breaker-open; one
// model that BreakerOpen reports as usable lets the submission through.
func (l *Layer) CheckCBOpen(agent *models.Agent, tierModels []string) error {
	candidates := append([]string{agent.PrimaryModel}, agent.FallbackModels...)
	candidates = append(candidates, tierModels...)

	for _, id := range candidates {
		if id == "" {
			continue
		}
		if !l.breakers.BreakerOpen(id) {
			return nil
		}
	}
	return fmt.Errorf("%w: agent %s", ErrDegraded, agent.ID)
}

// CheckSpawnBudget enforces max_children and max_depth for a sub-agent
// spawn. depth is the spawning task's spawn_depth; childrenSoFar is how
// many sub-agents that session has already spawned.
func (l *Layer) CheckSpawnBudget(depth, childrenSoFar int) error {
	if depth >= l.cfg.MaxDepth {
		return fmt.Errorf("%w: depth %d >= max_depth %d", ErrBudgetExceeded, depth, l.cfg.MaxDepth)
	}
	if childrenSoFar >= l.cfg.MaxChildren {
		return fmt.Errorf("%w: %d children >= max_children %d", ErrBudgetExceeded, childrenSoFar, l.cfg.MaxChildren)
	}
	return nil
}

// RegisterChild records that childSessionID was spawned by parentSessionID,
// for cascade-cancel when the parent task completes or is cancelled.
func (l *Layer) RegisterChild(parentSessionID, childSessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.children[parentSessionID] = append(l.children[parentSessionID], childSessionID)
}

// ChildCount reports how many sub-agents parentSessionID has spawned so far.
func (l *Layer) ChildCount(parentSessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.children[parentSessionID])
}

// Children returns parentSessionID's spawned children and forgets them;
// called once when the parent task finishes, to cascade-cancel.
func (l *Layer) Children(parentSessionID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kids := l.children[parentSessionID]
	delete(l.children, parentSessionID)
	return kids
}

// SweepStale force-ends active sessions older than the configured
// stale_threshold, called once per scheduler wake.
func (l *Layer) SweepStale(ctx context.Context, lister StaleLister, ender SessionEnder, now time.Time) (int, error) {
	cutoff := now.Add(-l.cfg.StaleThreshold)
	stale, err := lister.ListStaleActiveSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	ended := 0
	for _, s := range stale {
		if err := ender.EndSession(ctx, s.ID, models.SessionFailed); err != nil {
			continue
		}
		ended++
	}
	return ended, nil
}
