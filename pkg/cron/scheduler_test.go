package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/agentpool"
	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/models"
	"github.com/agentloop/agentloop/pkg/safety"
)

func testSafetyConfig() config.SafetyConfig {
	return config.SafetyConfig{MaxChildren: 3, MaxDepth: 2, StaleThreshold: 60 * time.Minute}
}

type fakeStore struct {
	mu       sync.Mutex
	entries  map[string]models.CronEntry
	history  map[string][]models.CronExecution
	sessions map[string]models.ChatSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries:  make(map[string]models.CronEntry),
		history:  make(map[string][]models.CronExecution),
		sessions: make(map[string]models.ChatSession),
	}
}

func (s *fakeStore) ListCrons(ctx context.Context) ([]models.CronEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CronEntry
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) GetCron(ctx context.Context, id string) (*models.CronEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &e, nil
}

func (s *fakeStore) UpsertCron(ctx context.Context, entry models.CronEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *fakeStore) DeleteCron(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *fakeStore) AppendCronHistory(ctx context.Context, exec models.CronExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[exec.CronID] = append(s.history[exec.CronID], exec)
	return nil
}

func (s *fakeStore) TrimCronHistory(ctx context.Context, cronID string) error { return nil }

func (s *fakeStore) UpdateCronSchedule(ctx context.Context, cronID string, lastRunAt, nextRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[cronID]
	e.LastRunAt = lastRunAt
	s.entries[cronID] = e
	return nil
}

func (s *fakeStore) ListStaleActiveSessions(ctx context.Context, cutoff time.Time) ([]models.ChatSession, error) {
	return nil, nil
}

func (s *fakeStore) EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error {
	return nil
}

func (s *fakeStore) historyFor(cronID string) []models.CronExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CronExecution(nil), s.history[cronID]...)
}

type fakeSubmitter struct {
	mu       sync.Mutex
	submitted []agentpool.Task
	result    agentpool.Result
	err       error
}

func (f *fakeSubmitter) Submit(ctx context.Context, task agentpool.Task) (*agentpool.Future, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, task)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return agentpool.NewResolvedFuture(f.result), nil
}

type noopBreakers struct{}

func (noopBreakers) BreakerOpen(string) bool { return false }

func testSafety() *safety.Layer {
	return safety.New(testSafetyConfig(), noopBreakers{})
}

func TestSchedulerFiresDueEntryAndRecordsHistory(t *testing.T) {
	store := newFakeStore()
	store.entries["job-1"] = models.CronEntry{
		ID: "job-1", Schedule: "* * * * * *", Enabled: true,
		TargetAgent: "triage", Payload: "run report", SessionMode: models.SessionModeEphemeral,
		MaxDuration: time.Minute,
	}

	submitter := &fakeSubmitter{result: agentpool.Result{SessionID: "sess-1", Outcome: agentpool.OutcomeCompleted}}
	sched := New(store, submitter, testSafety())

	require.NoError(t, sched.Reload(context.Background()))

	// Force immediate firing regardless of the real clock.
	sched.mu.Lock()
	for _, st := range sched.states {
		st.nextRun = time.Now().UTC().Add(-time.Second)
	}
	sched.rebuildHeap()
	sched.mu.Unlock()

	sched.fireDue(context.Background())

	require.Len(t, submitter.submitted, 1)
	assert.Equal(t, "triage", submitter.submitted[0].AgentID)
	assert.Equal(t, "run report", submitter.submitted[0].Prompt)

	hist := store.historyFor("job-1")
	require.Len(t, hist, 1)
	assert.Equal(t, models.OutcomeSuccess, hist[0].Outcome)
	assert.Equal(t, "sess-1", hist[0].ProducedSessionID)
}

func TestSchedulerSkipsStillFiringEphemeralEntry(t *testing.T) {
	store := newFakeStore()
	store.entries["job-1"] = models.CronEntry{
		ID: "job-1", Schedule: "* * * * * *", Enabled: true,
		TargetAgent: "triage", Payload: "run", SessionMode: models.SessionModeEphemeral,
	}

	submitter := &fakeSubmitter{result: agentpool.Result{SessionID: "sess-1", Outcome: agentpool.OutcomeCompleted}}
	sched := New(store, submitter, testSafety())
	require.NoError(t, sched.Reload(context.Background()))

	sched.mu.Lock()
	st := sched.states["job-1"]
	st.firing = true
	sched.mu.Unlock()

	sched.fireOne(context.Background(), st, time.Now().UTC())

	hist := store.historyFor("job-1")
	require.Len(t, hist, 1)
	assert.Equal(t, models.OutcomeSkippedStillActive, hist[0].Outcome)
	assert.Empty(t, submitter.submitted)
}

func TestSchedulerRecordsFailureOutcome(t *testing.T) {
	store := newFakeStore()
	store.entries["job-1"] = models.CronEntry{
		ID: "job-1", Schedule: "* * * * * *", Enabled: true,
		TargetAgent: "triage", Payload: "run", SessionMode: models.SessionModeEphemeral,
	}

	submitter := &fakeSubmitter{result: agentpool.Result{SessionID: "sess-1", Outcome: agentpool.OutcomeFailed}}
	sched := New(store, submitter, testSafety())
	require.NoError(t, sched.Reload(context.Background()))

	sched.mu.Lock()
	st := sched.states["job-1"]
	sched.mu.Unlock()

	sched.fireOne(context.Background(), st, time.Now().UTC())

	hist := store.historyFor("job-1")
	require.Len(t, hist, 1)
	assert.Equal(t, models.OutcomeFailure, hist[0].Outcome)
}

func TestSchedulerRecordsSkippedCBOpenWhenSubmitVetoed(t *testing.T) {
	store := newFakeStore()
	store.entries["job-1"] = models.CronEntry{
		ID: "job-1", Schedule: "* * * * * *", Enabled: true,
		TargetAgent: "triage", Payload: "run", SessionMode: models.SessionModeEphemeral,
	}

	submitter := &fakeSubmitter{err: safety.ErrDegraded}
	sched := New(store, submitter, testSafety())
	require.NoError(t, sched.Reload(context.Background()))

	sched.mu.Lock()
	st := sched.states["job-1"]
	sched.mu.Unlock()

	sched.fireOne(context.Background(), st, time.Now().UTC())

	hist := store.historyFor("job-1")
	require.Len(t, hist, 1)
	assert.Equal(t, models.OutcomeSkippedCBOpen, hist[0].Outcome)
}

func TestReloadRemovesDisabledAndDeletedEntries(t *testing.T) {
	store := newFakeStore()
	store.entries["job-1"] = models.CronEntry{ID: "job-1", Schedule: "* * * * * *", Enabled: true}
	store.entries["job-2"] = models.CronEntry{ID: "job-2", Schedule: "* * * * * *", Enabled: false}

	sched := New(store, &fakeSubmitter{}, testSafety())
	require.NoError(t, sched.Reload(context.Background()))

	sched.mu.Lock()
	_, hasJob1 := sched.states["job-1"]
	_, hasJob2 := sched.states["job-2"]
	sched.mu.Unlock()

	assert.True(t, hasJob1)
	assert.False(t, hasJob2, "disabled entries must not be scheduled")

	store.mu.Lock()
	delete(store.entries, "job-1")
	store.mu.Unlock()
	require.NoError(t, sched.Reload(context.Background()))

	sched.mu.Lock()
	_, hasJob1 = sched.states["job-1"]
	sched.mu.Unlock()
	assert.False(t, hasJob1, "deleted entries must be unscheduled")
}

func TestReloadSkipsInvalidSchedule(t *testing.T) {
	store := newFakeStore()
	store.entries["job-1"] = models.CronEntry{ID: "job-1", Schedule: "not a schedule", Enabled: true}

	sched := New(store, &fakeSubmitter{}, testSafety())
	require.NoError(t, sched.Reload(context.Background()))

	sched.mu.Lock()
	_, ok := sched.states["job-1"]
	sched.mu.Unlock()
	assert.False(t, ok)
}
