package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/models"
)

func testBreakerCfg() breakerConfig {
	return breakerConfig{Threshold: 3, CooldownBase: 10 * time.Millisecond, MaxCooldown: 100 * time.Millisecond}
}

func TestBreakerClosedAllowsCalls(t *testing.T) {
	cfg := testBreakerCfg()
	b := newBreaker("model-a")

	proceed, probe := b.allow(time.Now(), cfg)
	assert.True(t, proceed)
	assert.False(t, probe)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cfg := testBreakerCfg()
	b := newBreaker("model-a")
	now := time.Now()

	b.recordFailure(now, 3)
	b.recordFailure(now, 3)
	assert.Equal(t, models.BreakerClosed, b.snapshot().State)

	b.recordFailure(now, 3)
	assert.Equal(t, models.BreakerOpen, b.snapshot().State)

	proceed, _ := b.allow(now, cfg)
	assert.False(t, proceed)
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	cfg := testBreakerCfg()
	b := newBreaker("model-a")
	now := time.Now()

	b.recordFailure(now, 1)
	require.Equal(t, models.BreakerOpen, b.snapshot().State)

	later := now.Add(20 * time.Millisecond)
	proceed, probe := b.allow(later, cfg)
	assert.True(t, proceed)
	assert.True(t, probe)
	assert.Equal(t, models.BreakerHalfOpen, b.snapshot().State)

	// A second caller must not get a concurrent probe.
	proceed, probe = b.allow(later, cfg)
	assert.False(t, proceed)
	assert.False(t, probe)
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	cfg := testBreakerCfg()
	b := newBreaker("model-a")
	now := time.Now()

	b.recordFailure(now, 1)
	b.allow(now.Add(20*time.Millisecond), cfg)
	b.recordSuccess()

	snap := b.snapshot()
	assert.Equal(t, models.BreakerClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 0, snap.CooldownAttempt)
}

func TestBreakerHalfOpenFailureReopensAndDoublesCooldown(t *testing.T) {
	cfg := testBreakerCfg()
	b := newBreaker("model-a")
	now := time.Now()

	b.recordFailure(now, 1)
	firstCooldown := b.cooldown(cfg)

	probeAt := now.Add(firstCooldown + time.Millisecond)
	b.allow(probeAt, cfg)
	b.recordFailure(probeAt, 1)

	snap := b.snapshot()
	assert.Equal(t, models.BreakerOpen, snap.State)
	assert.Equal(t, 2, snap.CooldownAttempt)
	assert.Greater(t, b.cooldown(cfg), firstCooldown)
}

func TestBreakerCooldownCapsAtCeiling(t *testing.T) {
	cfg := testBreakerCfg()
	b := newBreaker("model-a")
	now := time.Now()

	for i := 0; i < 10; i++ {
		b.recordFailure(now, 1)
	}
	assert.LessOrEqual(t, b.cooldown(cfg), cfg.MaxCooldown)
}

func TestBreakerIsOpenDoesNotMutateState(t *testing.T) {
	cfg := testBreakerCfg()
	b := newBreaker("model-a")
	now := time.Now()

	b.recordFailure(now, 1)
	later := now.Add(20 * time.Millisecond)

	assert.True(t, b.isOpen(later, cfg))
	// isOpen must not have flipped the breaker to half-open.
	assert.Equal(t, models.BreakerOpen, b.snapshot().State)

	// allow() still performs the real transition afterwards.
	proceed, probe := b.allow(later, cfg)
	assert.True(t, proceed)
	assert.True(t, probe)
}

func TestRegistryReusesBreakerPerModel(t *testing.T) {
	r := newRegistry()
	a := r.get("model-a")
	b := r.get("model-a")
	assert.Same(t, a, b)

	c := r.get("model-b")
	assert.NotSame(t, a, c)
}

func TestRegistryConfigIsMutableAfterConstruction(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, defaultBreakerConfig(), r.config())

	want := breakerConfig{Threshold: 9, CooldownBase: time.Second, MaxCooldown: time.Minute}
	r.setConfig(want)
	assert.Equal(t, want, r.config())
}
