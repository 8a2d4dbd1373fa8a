package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/models"
)

type fakeBreakers struct {
	open map[string]bool
}

func (f *fakeBreakers) BreakerOpen(modelID string) bool { return f.open[modelID] }

func defaultSafetyConfig() config.SafetyConfig {
	return config.SafetyConfig{
		MaxChildren:    3,
		MaxDepth:       2,
		StaleThreshold: 60 * time.Minute,
	}
}

func TestCheckCBOpenAllowsWhenAnyCandidateClosed(t *testing.T) {
	breakers := &fakeBreakers{open: map[string]bool{"gpt-a": true, "gpt-b": false}}
	l := New(defaultSafetyConfig(), breakers)

	agent := &models.Agent{ID: "triage", PrimaryModel: "gpt-a", FallbackModels: []string{"gpt-b"}}
	assert.NoError(t, l.CheckCBOpen(agent, nil))
}

func TestCheckCBOpenVetoesWhenEveryCandidateOpen(t *testing.T) {
	breakers := &fakeBreakers{open: map[string]bool{"gpt-a": true, "gpt-b": true, "gpt-c": true}}
	l := New(defaultSafetyConfig(), breakers)

	agent := &models.Agent{ID: "triage", PrimaryModel: "gpt-a", FallbackModels: []string{"gpt-b"}}
	err := l.CheckCBOpen(agent, []string{"gpt-c"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegraded))
}

func TestCheckSpawnBudgetRejectsAtMaxDepth(t *testing.T) {
	l := New(defaultSafetyConfig(), &fakeBreakers{})
	err := l.CheckSpawnBudget(2, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestCheckSpawnBudgetRejectsAtMaxChildren(t *testing.T) {
	l := New(defaultSafetyConfig(), &fakeBreakers{})
	err := l.CheckSpawnBudget(1, 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestCheckSpawnBudgetAllowsWithinLimits(t *testing.T) {
	l := New(defaultSafetyConfig(), &fakeBreakers{})
	assert.NoError(t, l.CheckSpawnBudget(1, 2))
}

func TestRegisterChildAndChildrenPopsAndForgets(t *testing.T) {
	l := New(defaultSafetyConfig(), &fakeBreakers{})
	l.RegisterChild("parent-1", "child-1")
	l.RegisterChild("parent-1", "child-2")

	assert.Equal(t, 2, l.ChildCount("parent-1"))

	kids := l.Children("parent-1")
	assert.ElementsMatch(t, []string{"child-1", "child-2"}, kids)

	assert.Equal(t, 0, l.ChildCount("parent-1"))
	assert.Empty(t, l.Children("parent-1"))
}

type fakeStaleLister struct {
	sessions []models.ChatSession
}

func (f *fakeStaleLister) ListStaleActiveSessions(ctx context.Context, cutoff time.Time) ([]models.ChatSession, error) {
	return f.sessions, nil
}

type fakeSessionEnder struct {
	ended map[string]models.SessionStatus
}

func (f *fakeSessionEnder) EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if f.ended == nil {
		f.ended = make(map[string]models.SessionStatus)
	}
	f.ended[sessionID] = status
	return nil
}

func TestSweepStaleEndsEveryStaleSession(t *testing.T) {
	l := New(defaultSafetyConfig(), &fakeBreakers{})
	lister := &fakeStaleLister{sessions: []models.ChatSession{{ID: "s1"}, {ID: "s2"}}}
	ender := &fakeSessionEnder{}

	n, err := l.SweepStale(context.Background(), lister, ender, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, models.SessionFailed, ender.ended["s1"])
	assert.Equal(t, models.SessionFailed, ender.ended["s2"])
}

func TestSweepStaleContinuesPastIndividualEndErrors(t *testing.T) {
	l := New(defaultSafetyConfig(), &fakeBreakers{})
	lister := &fakeStaleLister{sessions: []models.ChatSession{{ID: "s1"}, {ID: "s2"}}}
	ender := &erroringEnder{failFor: "s1"}

	n, err := l.SweepStale(context.Background(), lister, ender, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type erroringEnder struct {
	failFor string
}

func (e *erroringEnder) EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if sessionID == e.failFor {
		return errors.New("boom")
	}
	return nil
}
