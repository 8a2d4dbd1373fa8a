package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/agentloop/agentloop/pkg/models"
)

// Catalog is the subset of pkg/config.Config the Gateway needs: agent and
// model lookups. Defined here, not imported from pkg/config, so the
// Gateway only depends on the shapes it actually uses.
type Catalog interface {
	Agent(id string) (*models.Agent, error)
	Model(id string) (*models.ModelSpec, error)
	ModelsInTier(tier models.ModelTier) []string
	TierOrder() []models.ModelTier
}

// UsageRecorder persists one outbound call's outcome. *store.Gateway
// satisfies this; tests supply a fake.
type UsageRecorder interface {
	RecordModelUsage(ctx context.Context, u models.ModelUsage) error
}

// chatClient issues one chat completion attempt against a model endpoint.
// *openAIClient satisfies this; tests supply a fake to avoid real network
// calls.
type chatClient interface {
	chat(ctx context.Context, spec *models.ModelSpec, req Request, deadline time.Duration) (*Result, error)
}

// Gateway is the single choke point for outbound model traffic.
type Gateway struct {
	catalog Catalog
	usage   UsageRecorder
	client  chatClient
	breaker *registry
	now     func() time.Time
}

// New builds a Gateway over the given catalog and usage sink.
func New(catalog Catalog, usage UsageRecorder) *Gateway {
	return &Gateway{
		catalog: catalog,
		usage:   usage,
		client:  newOpenAIClient(),
		breaker: newRegistry(),
		now:     time.Now,
	}
}

// Complete runs the candidate chain for agentID and req, honoring
// deadline as the overall time budget for every attempt combined.
func (g *Gateway) Complete(ctx context.Context, agentID string, req Request, deadline time.Duration) (*Result, error) {
	agent, err := g.catalog.Agent(agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	candidates, err := g.candidateList(agent)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	overallDeadline := g.now().Add(deadline)
	cfg := g.breaker.config()
	var lastErr error

	for _, modelID := range candidates {
		spec, err := g.catalog.Model(modelID)
		if err != nil {
			continue // a fallback/tier entry that no longer resolves is skipped, not fatal
		}

		b := g.breaker.get(modelID)
		now := g.now()
		proceed, _ := b.allow(now, cfg)
		if !proceed {
			continue
		}

		remaining := overallDeadline.Sub(now)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: deadline exhausted before trying %s", ErrExhausted, modelID)
		}
		callTimeout := remaining
		if agent.Timeout > 0 && agent.Timeout < callTimeout {
			callTimeout = agent.Timeout
		}

		start := g.now()
		result, callErr := g.client.chat(ctx, spec, req, callTimeout)
		latencyMS := time.Since(start).Milliseconds()

		if callErr == nil {
			b.recordSuccess()
			g.recordUsage(ctx, spec, result.InputTokens, result.OutputTokens, result.CostUSD, latencyMS, true, "")
			return result, nil
		}

		lastErr = callErr
		g.recordUsage(ctx, spec, 0, 0, 0, latencyMS, false, callErr.Error())

		if errors.Is(callErr, ErrInvariant) {
			// Not retryable: stop immediately, do not touch the breaker.
			return nil, callErr
		}
		b.recordFailure(g.now(), cfg.Threshold)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
	}
	return nil, ErrExhausted
}

func (g *Gateway) recordUsage(ctx context.Context, spec *models.ModelSpec, in, out int64, cost float64, latencyMS int64, success bool, errMsg string) {
	if g.usage == nil {
		return
	}
	_ = g.usage.RecordModelUsage(ctx, models.ModelUsage{
		Model:        spec.ID,
		Provider:     spec.ProviderID,
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      cost,
		LatencyMS:    latencyMS,
		Success:      success,
		ErrorMessage: errMsg,
		CreatedAt:    g.now(),
	})
}

// candidateList builds the ordered, deduplicated model chain: primary,
// then declared fallbacks, then the catalog's tier order, first
// occurrence wins. This order is stable across calls for the same
// agent — only breaker state changes which candidate actually answers.
func (g *Gateway) candidateList(agent *models.Agent) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	add(agent.PrimaryModel)
	for _, f := range agent.FallbackModels {
		add(f)
	}
	for _, tier := range g.catalog.TierOrder() {
		ids := g.catalog.ModelsInTier(tier)
		sort.Strings(ids)
		for _, id := range ids {
			add(id)
		}
	}
	return out, nil
}

// BreakerSnapshot exposes every dialed model's breaker state, for the
// Safety Layer's CB-open veto and for status reporting.
func (g *Gateway) BreakerSnapshot() []models.CircuitBreakerState {
	return g.breaker.Snapshot()
}

// BreakerOpen reports whether modelID's breaker is currently refusing
// calls (open and still inside its cooldown, or half-open with a probe
// already outstanding). Read-only: unlike allow(), it never transitions
// an expired Open breaker to HalfOpen.
func (g *Gateway) BreakerOpen(modelID string) bool {
	b := g.breaker.get(modelID)
	return b.isOpen(g.now(), g.breaker.config())
}

// SetBreakerConfig replaces the threshold/cooldown knobs every breaker in
// this Gateway reads on its next call. Safe to call concurrently with
// Complete/BreakerOpen from a config-reload handler while workers are
// live — the registry stores it behind an atomic.Pointer, not a bare
// package variable.
func (g *Gateway) SetBreakerConfig(threshold int, cooldownBase, maxCooldown time.Duration) {
	g.breaker.setConfig(breakerConfig{
		Threshold:    threshold,
		CooldownBase: cooldownBase,
		MaxCooldown:  maxCooldown,
	})
}
