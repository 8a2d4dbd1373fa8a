package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/models"
	"github.com/agentloop/agentloop/pkg/store"
	testdb "github.com/agentloop/agentloop/test/database"
)

func newGateway(t *testing.T) *store.Gateway {
	client := testdb.NewTestClient(t)
	return store.New(client.DB())
}

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	id, err := g.CreateSession(ctx, "agent-1", models.SessionInteractive, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	session, err := g.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", session.AgentID)
	assert.Equal(t, models.SessionActive, session.Status)
	assert.False(t, session.IsTerminal())
}

func TestCreateSessionUnknownParentIsConflict(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	_, err := g.CreateSession(ctx, "agent-1", models.SessionSubAgent, "00000000-0000-0000-0000-000000000000", nil)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	id, err := g.CreateSession(ctx, "agent-1", models.SessionCron, "", nil)
	require.NoError(t, err)

	require.NoError(t, g.EndSession(ctx, id, models.SessionEnded))
	require.NoError(t, g.EndSession(ctx, id, models.SessionEnded))

	session, err := g.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, session.Status)
	assert.NotNil(t, session.EndedAt)
}

func TestEndSessionConflictingStatusIsRejected(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	id, err := g.CreateSession(ctx, "agent-1", models.SessionCron, "", nil)
	require.NoError(t, err)
	require.NoError(t, g.EndSession(ctx, id, models.SessionEnded))

	err = g.EndSession(ctx, id, models.SessionFailed)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestAppendMessageIsIdempotentOnContentHash(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	sessionID, err := g.CreateSession(ctx, "agent-1", models.SessionInteractive, "", nil)
	require.NoError(t, err)

	msg := models.Message{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   "how many open cron entries are there?",
		CreatedAt: time.Now().UTC(),
	}

	firstID, err := g.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.NotEmpty(t, firstID)

	// Same session, role, content: a retried append must return the
	// original id rather than erroring or inserting a duplicate row.
	msg.ID = ""
	secondID, err := g.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	all, err := g.ListMessages(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAppendMessageRejectedAfterSessionClosed(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	sessionID, err := g.CreateSession(ctx, "agent-1", models.SessionInteractive, "", nil)
	require.NoError(t, err)
	require.NoError(t, g.EndSession(ctx, sessionID, models.SessionEnded))

	_, err = g.AppendMessage(ctx, models.Message{
		SessionID: sessionID,
		Role:      models.RoleAssistantMsg,
		Content:   "too late",
		CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrSessionClosed)
}

func TestAddUsageAccumulates(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	sessionID, err := g.CreateSession(ctx, "agent-1", models.SessionInteractive, "", nil)
	require.NoError(t, err)

	require.NoError(t, g.AddUsage(ctx, sessionID, 100, 50, 0.01))
	require.NoError(t, g.AddUsage(ctx, sessionID, 20, 10, 0.002))

	session, err := g.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), session.InputTokens)
	assert.Equal(t, int64(60), session.OutputTokens)
	assert.InDelta(t, 0.012, session.CostUSD, 0.0001)
}

func TestCronLifecycle(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	entry := models.CronEntry{
		ID:          "nightly-report",
		Name:        "Nightly report",
		Schedule:    "0 2 * * *",
		Enabled:     true,
		Payload:     `{"prompt":"summarize yesterday"}`,
		TargetAgent: "reporter",
		SessionMode: models.SessionModeEphemeral,
		MaxDuration: 5 * time.Minute,
		RetryCount:  1,
	}
	require.NoError(t, g.UpsertCron(ctx, entry))

	loaded, err := g.GetCron(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Schedule, loaded.Schedule)
	assert.Equal(t, entry.MaxDuration, loaded.MaxDuration)

	entry.Schedule = "0 3 * * *"
	require.NoError(t, g.UpsertCron(ctx, entry))
	loaded, err = g.GetCron(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", loaded.Schedule)

	all, err := g.ListCrons(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, g.DeleteCron(ctx, entry.ID))
	_, err = g.GetCron(ctx, entry.ID)
	assert.ErrorIs(t, err, store.ErrCronNotFound)
}

func TestCronHistoryIsTrimmed(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	entry := models.CronEntry{
		ID: "trim-me", Name: "Trim me", Schedule: "* * * * *",
		Enabled: true, Payload: "{}", TargetAgent: "worker",
		SessionMode: models.SessionModeEphemeral, MaxDuration: time.Minute,
	}
	require.NoError(t, g.UpsertCron(ctx, entry))

	base := time.Now().UTC().Add(-24 * time.Hour)
	for i := 0; i < store.MaxCronHistory+5; i++ {
		require.NoError(t, g.AppendCronHistory(ctx, models.CronExecution{
			CronID:    entry.ID,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Outcome:   models.OutcomeSuccess,
		}))
	}
	require.NoError(t, g.TrimCronHistory(ctx, entry.ID))

	history, err := g.ListCronHistory(ctx, entry.ID, store.MaxCronHistory+50)
	require.NoError(t, err)
	assert.Len(t, history, store.MaxCronHistory)
}

func TestTouchAgentState(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	zero, err := g.LastUsedAt(ctx, "agent-never-touched")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	require.NoError(t, g.TouchAgentState(ctx, "agent-1"))
	touched, err := g.LastUsedAt(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, touched.IsZero())
}

func TestRecordModelUsage(t *testing.T) {
	ctx := context.Background()
	g := newGateway(t)

	sessionID, err := g.CreateSession(ctx, "agent-1", models.SessionInteractive, "", nil)
	require.NoError(t, err)

	err = g.RecordModelUsage(ctx, models.ModelUsage{
		Model: "gpt-4o-mini", Provider: "openai",
		InputTokens: 42, OutputTokens: 18, CostUSD: 0.0004,
		Success: true, SessionID: sessionID, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}
