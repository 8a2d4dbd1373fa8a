package llm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentloop/agentloop/pkg/models"
)

// breaker is one model endpoint's circuit breaker. Closed lets every call
// through; Open refuses every call until the cooldown elapses, at which
// point exactly one call is let through as a half-open probe.
type breaker struct {
	mu    sync.Mutex
	state models.CircuitBreakerState
}

func newBreaker(endpoint string) *breaker {
	return &breaker{state: models.CircuitBreakerState{
		Endpoint: endpoint,
		State:    models.BreakerClosed,
	}}
}

// allow reports whether a call may proceed, and whether it is a
// half-open probe (at most one in flight at a time).
func (b *breaker) allow(now time.Time, cfg breakerConfig) (proceed bool, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.State {
	case models.BreakerClosed:
		return true, false
	case models.BreakerOpen:
		if now.Before(b.state.OpenedAt.Add(b.cooldown(cfg))) {
			return false, false
		}
		b.state.State = models.BreakerHalfOpen
		b.state.HalfOpenProbeAt = now
		return true, true
	case models.BreakerHalfOpen:
		// A probe is already outstanding; refuse concurrent callers
		// until it resolves via recordSuccess/recordFailure.
		return false, false
	default:
		return true, false
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.State = models.BreakerClosed
	b.state.ConsecutiveFailures = 0
	b.state.CooldownAttempt = 0
}

// recordFailure increments the failure count and opens the breaker once
// it crosses threshold. A failure during a half-open probe always
// reopens the breaker and doubles the cooldown, regardless of threshold.
func (b *breaker) recordFailure(now time.Time, threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state.State == models.BreakerHalfOpen
	b.state.ConsecutiveFailures++

	if wasProbe || b.state.ConsecutiveFailures >= threshold {
		b.state.State = models.BreakerOpen
		b.state.OpenedAt = now
		b.state.CooldownAttempt++
	}
}

// cooldown returns the current cooldown duration, doubling per reopen
// up to cfg's ceiling. cenkalti/backoff's exponential curve (factor 2,
// no jitter needed here since only one caller computes it) supplies the
// doubling arithmetic. Caller must hold b.mu.
func (b *breaker) cooldown(cfg breakerConfig) time.Duration {
	base := cfg.CooldownBase
	ceiling := cfg.MaxCooldown

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = ceiling
	eb.MaxElapsedTime = 0
	eb.Reset()

	d := base
	for i := 0; i < b.state.CooldownAttempt; i++ {
		d = eb.NextBackOff()
		if d > ceiling {
			d = ceiling
			break
		}
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// isOpen is a read-only check used by the Safety Layer's veto: true if
// the breaker is Open and still within cooldown, or HalfOpen (a probe
// is already outstanding). It never mutates state.
func (b *breaker) isOpen(now time.Time, cfg breakerConfig) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state.State {
	case models.BreakerOpen:
		return now.Before(b.state.OpenedAt.Add(b.cooldown(cfg)))
	case models.BreakerHalfOpen:
		return true
	default:
		return false
	}
}

func (b *breaker) snapshot() models.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakerConfig holds the threshold/cooldown knobs every breaker reads.
type breakerConfig struct {
	Threshold    int
	CooldownBase time.Duration
	MaxCooldown  time.Duration
}

// defaultBreakerConfig matches spec: threshold 5, cooldown 60s doubling
// to 10m.
func defaultBreakerConfig() breakerConfig {
	return breakerConfig{
		Threshold:    5,
		CooldownBase: 60 * time.Second,
		MaxCooldown:  10 * time.Minute,
	}
}

// registry is a lazily-populated set of breakers, one per model id, plus
// the shared threshold/cooldown config every breaker in it reads. cfg is
// an atomic.Pointer rather than a field behind mu: readers on the hot
// Complete() path would otherwise contend with a reload's writer on
// every single call.
type registry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cfg      atomic.Pointer[breakerConfig]
}

func newRegistry() *registry {
	r := &registry{breakers: make(map[string]*breaker)}
	def := defaultBreakerConfig()
	r.cfg.Store(&def)
	return r
}

func (r *registry) get(modelID string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[modelID]
	if !ok {
		b = newBreaker(modelID)
		r.breakers[modelID] = b
	}
	return b
}

// config returns the currently active breaker knobs.
func (r *registry) config() breakerConfig {
	return *r.cfg.Load()
}

// setConfig atomically replaces the breaker knobs every breaker in this
// registry reads on its next call.
func (r *registry) setConfig(cfg breakerConfig) {
	r.cfg.Store(&cfg)
}

// Snapshot returns the current breaker state for every model that has
// ever been dialed, for status/health reporting.
func (r *registry) Snapshot() []models.CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CircuitBreakerState, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.snapshot())
	}
	return out
}
