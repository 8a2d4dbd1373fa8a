package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/models"
)

type fakeCatalog struct {
	agents map[string]*models.Agent
	models map[string]*models.ModelSpec
	tiers  []models.ModelTier
	inTier map[models.ModelTier][]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		agents: make(map[string]*models.Agent),
		models: make(map[string]*models.ModelSpec),
		inTier: make(map[models.ModelTier][]string),
	}
}

func (c *fakeCatalog) Agent(id string) (*models.Agent, error) {
	a, ok := c.agents[id]
	if !ok {
		return nil, errors.New("unknown agent")
	}
	return a, nil
}

func (c *fakeCatalog) Model(id string) (*models.ModelSpec, error) {
	m, ok := c.models[id]
	if !ok {
		return nil, errors.New("unknown model")
	}
	return m, nil
}

func (c *fakeCatalog) ModelsInTier(tier models.ModelTier) []string { return c.inTier[tier] }
func (c *fakeCatalog) TierOrder() []models.ModelTier                { return c.tiers }

type fakeUsageRecorder struct {
	recorded []models.ModelUsage
}

func (r *fakeUsageRecorder) RecordModelUsage(ctx context.Context, u models.ModelUsage) error {
	r.recorded = append(r.recorded, u)
	return nil
}

type scriptedClient struct {
	calls   []string
	results map[string]scriptedResult
}

type scriptedResult struct {
	result *Result
	err    error
}

func (c *scriptedClient) chat(ctx context.Context, spec *models.ModelSpec, req Request, deadline time.Duration) (*Result, error) {
	c.calls = append(c.calls, spec.ID)
	sr, ok := c.results[spec.ID]
	if !ok {
		return nil, errors.New("no script for model " + spec.ID)
	}
	return sr.result, sr.err
}

func newTestGateway(catalog Catalog, client chatClient) (*Gateway, *fakeUsageRecorder) {
	usage := &fakeUsageRecorder{}
	g := &Gateway{catalog: catalog, usage: usage, client: client, breaker: newRegistry(), now: time.Now}
	return g, usage
}

func TestCompleteSucceedsOnPrimary(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.agents["triage"] = &models.Agent{ID: "triage", PrimaryModel: "gpt-a", Timeout: time.Second}
	catalog.models["gpt-a"] = &models.ModelSpec{ID: "gpt-a"}

	client := &scriptedClient{results: map[string]scriptedResult{
		"gpt-a": {result: &Result{Content: "hi", ModelUsed: "gpt-a"}},
	}}
	g, usage := newTestGateway(catalog, client)

	res, err := g.Complete(context.Background(), "triage", Request{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content)
	assert.Len(t, usage.recorded, 1)
	assert.True(t, usage.recorded[0].Success)
}

func TestCompleteFallsBackOnFailure(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.agents["triage"] = &models.Agent{ID: "triage", PrimaryModel: "gpt-a", FallbackModels: []string{"gpt-b"}, Timeout: time.Second}
	catalog.models["gpt-a"] = &models.ModelSpec{ID: "gpt-a"}
	catalog.models["gpt-b"] = &models.ModelSpec{ID: "gpt-b"}

	client := &scriptedClient{results: map[string]scriptedResult{
		"gpt-a": {err: errors.New("connection reset")},
		"gpt-b": {result: &Result{Content: "fallback ok", ModelUsed: "gpt-b"}},
	}}
	g, usage := newTestGateway(catalog, client)

	res, err := g.Complete(context.Background(), "triage", Request{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fallback ok", res.Content)
	assert.Equal(t, []string{"gpt-a", "gpt-b"}, client.calls)
	assert.Len(t, usage.recorded, 2)
	assert.False(t, usage.recorded[0].Success)
	assert.True(t, usage.recorded[1].Success)
}

func TestCompleteStopsImmediatelyOnInvariantError(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.agents["triage"] = &models.Agent{ID: "triage", PrimaryModel: "gpt-a", FallbackModels: []string{"gpt-b"}, Timeout: time.Second}
	catalog.models["gpt-a"] = &models.ModelSpec{ID: "gpt-a"}
	catalog.models["gpt-b"] = &models.ModelSpec{ID: "gpt-b"}

	client := &scriptedClient{results: map[string]scriptedResult{
		"gpt-a": {err: errInvariantWrap("bad request")},
	}}
	g, _ := newTestGateway(catalog, client)

	_, err := g.Complete(context.Background(), "triage", Request{}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
	assert.Equal(t, []string{"gpt-a"}, client.calls, "fallback must not be tried after an invariant error")
}

func TestCompleteExhaustsAllCandidates(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.agents["triage"] = &models.Agent{ID: "triage", PrimaryModel: "gpt-a", Timeout: time.Second}
	catalog.models["gpt-a"] = &models.ModelSpec{ID: "gpt-a"}

	client := &scriptedClient{results: map[string]scriptedResult{
		"gpt-a": {err: errors.New("timeout")},
	}}
	g, _ := newTestGateway(catalog, client)

	_, err := g.Complete(context.Background(), "triage", Request{}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestCompleteSkipsOpenBreaker(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.agents["triage"] = &models.Agent{ID: "triage", PrimaryModel: "gpt-a", FallbackModels: []string{"gpt-b"}, Timeout: time.Second}
	catalog.models["gpt-a"] = &models.ModelSpec{ID: "gpt-a"}
	catalog.models["gpt-b"] = &models.ModelSpec{ID: "gpt-b"}

	client := &scriptedClient{results: map[string]scriptedResult{
		"gpt-b": {result: &Result{Content: "ok", ModelUsed: "gpt-b"}},
	}}
	g, _ := newTestGateway(catalog, client)

	// Force gpt-a's breaker open before calling Complete.
	b := g.breaker.get("gpt-a")
	b.recordFailure(time.Now(), 1)
	require.True(t, g.BreakerOpen("gpt-a"))

	res, err := g.Complete(context.Background(), "triage", Request{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, []string{"gpt-b"}, client.calls)
}

func TestCandidateListDedupsAndOrdersPrimaryFirst(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.tiers = []models.ModelTier{models.TierFree, models.TierPaid}
	catalog.inTier[models.TierFree] = []string{"gpt-a", "gpt-c"}
	catalog.inTier[models.TierPaid] = []string{"gpt-d"}

	g, _ := newTestGateway(catalog, &scriptedClient{results: map[string]scriptedResult{}})
	agent := &models.Agent{ID: "x", PrimaryModel: "gpt-a", FallbackModels: []string{"gpt-c"}}

	list, err := g.candidateList(agent)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-a", "gpt-c", "gpt-d"}, list)
}

func errInvariantWrap(msg string) error {
	return &invariantTestErr{msg: msg}
}

type invariantTestErr struct{ msg string }

func (e *invariantTestErr) Error() string { return e.msg }
func (e *invariantTestErr) Unwrap() error { return ErrInvariant }
