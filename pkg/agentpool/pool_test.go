package agentpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/llm"
	"github.com/agentloop/agentloop/pkg/models"
	"github.com/agentloop/agentloop/pkg/safety"
	"github.com/agentloop/agentloop/pkg/session"
)

// fakeCatalog is a minimal Catalog: one agent, no tier fallbacks.
type fakeCatalog struct {
	agents map[string]*models.Agent
	queue  *config.QueueConfig
}

func newFakeCatalog(maxConcurrent int) *fakeCatalog {
	return &fakeCatalog{
		agents: make(map[string]*models.Agent),
		queue:  &config.QueueConfig{MaxConcurrent: maxConcurrent},
	}
}

func (c *fakeCatalog) Agent(id string) (*models.Agent, error) {
	a, ok := c.agents[id]
	if !ok {
		return nil, errors.New("unknown agent " + id)
	}
	return a, nil
}

func (c *fakeCatalog) Queue() *config.QueueConfig    { return c.queue }
func (c *fakeCatalog) Models() *config.ModelRegistry { return config.NewModelRegistry(nil, nil) }

// fakeSessionGateway is the session.Gateway fake, same shape as
// pkg/session's own test fake.
type fakeSessionGateway struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	messages map[string][]models.Message
}

func newFakeSessionGateway() *fakeSessionGateway {
	return &fakeSessionGateway{
		sessions: make(map[string]*models.ChatSession),
		messages: make(map[string][]models.Message),
	}
}

func (g *fakeSessionGateway) CreateSession(ctx context.Context, agentID string, sessionType models.SessionType, parentSessionID string, metadata map[string]any) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.New().String()
	g.sessions[id] = &models.ChatSession{ID: id, AgentID: agentID, Type: sessionType, Status: models.SessionActive, ParentSessionID: parentSessionID, CreatedAt: time.Now()}
	return id, nil
}

func (g *fakeSessionGateway) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *s
	return &cp, nil
}

func (g *fakeSessionGateway) EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return errors.New("not found")
	}
	s.Status = status
	return nil
}

func (g *fakeSessionGateway) AppendMessage(ctx context.Context, msg models.Message) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	g.messages[msg.SessionID] = append(g.messages[msg.SessionID], msg)
	return msg.ID, nil
}

func (g *fakeSessionGateway) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.messages[sessionID], nil
}

func (g *fakeSessionGateway) statusOf(sessionID string) models.SessionStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[sessionID].Status
}

func (g *fakeSessionGateway) onlySessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.sessions {
		return id
	}
	return ""
}

// fakeCompleter scripts Complete's outcome for tests that don't need to
// hold a worker slot open.
type fakeCompleter struct {
	result *llm.Result
	err    error
}

func (c *fakeCompleter) Complete(ctx context.Context, agentID string, req llm.Request, deadline time.Duration) (*llm.Result, error) {
	return c.result, c.err
}

// blockingCompleter blocks every call on release (or ctx cancellation),
// so tests can pin MAX_CONCURRENT workers in flight and observe
// FIFO/backpressure and cancellation behavior deterministically instead
// of racing on timing.
type blockingCompleter struct {
	release chan struct{}

	mu      sync.Mutex
	entered int
}

func (b *blockingCompleter) Complete(ctx context.Context, agentID string, req llm.Request, deadline time.Duration) (*llm.Result, error) {
	b.mu.Lock()
	b.entered++
	b.mu.Unlock()
	select {
	case <-b.release:
		return &llm.Result{Content: "ok", ModelUsed: "gpt-a"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingCompleter) enteredCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entered
}

type alwaysClosedBreakers struct{}

func (alwaysClosedBreakers) BreakerOpen(string) bool { return false }

func testSafetyLayer() *safety.Layer {
	return safety.New(config.SafetyConfig{MaxChildren: 10, MaxDepth: 5, StaleThreshold: time.Hour}, alwaysClosedBreakers{})
}

func newTestPool(t *testing.T, maxConcurrent int, completer Completer) (*Pool, *fakeSessionGateway) {
	t.Helper()
	catalog := newFakeCatalog(maxConcurrent)
	catalog.agents["triage"] = &models.Agent{ID: "triage", PrimaryModel: "gpt-a", Timeout: time.Second}

	sgw := newFakeSessionGateway()
	sessions := session.New(sgw)
	pool := New(catalog, sessions, completer, testSafetyLayer(), t.TempDir())
	return pool, sgw
}

func TestPoolSubmitCompletesTaskSuccessfully(t *testing.T) {
	completer := &fakeCompleter{result: &llm.Result{Content: "hi", ModelUsed: "gpt-a"}}
	pool, sgw := newTestPool(t, 2, completer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	future, err := pool.Submit(ctx, Task{AgentID: "triage", Prompt: "hello"})
	require.NoError(t, err)

	res, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "hi", res.Content)
	assert.Equal(t, models.SessionActive, sgw.statusOf(res.SessionID))
}

// TestPoolMaxConcurrentBoundsWorkers submits more tasks than
// MAX_CONCURRENT, all of which block on their Complete call, and
// asserts the dispatch loop never lets more than MAX_CONCURRENT run at
// once — the extra task only starts once a slot frees.
func TestPoolMaxConcurrentBoundsWorkers(t *testing.T) {
	const maxConcurrent = 2
	blocking := &blockingCompleter{release: make(chan struct{})}

	pool, _ := newTestPool(t, maxConcurrent, blocking)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	futures := make([]*Future, 0, 3)
	for i := 0; i < 3; i++ {
		f, err := pool.Submit(ctx, Task{AgentID: "triage", Prompt: "p"})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	require.Eventually(t, func() bool {
		return blocking.enteredCount() == maxConcurrent
	}, time.Second, 5*time.Millisecond, "exactly MAX_CONCURRENT tasks should start")

	// Give the dispatch loop a chance to (wrongly) start a third; it must not.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, maxConcurrent, blocking.enteredCount(), "third task must not start until a slot frees")

	close(blocking.release)

	for _, f := range futures {
		res, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, res.Outcome)
	}
	assert.Equal(t, 3, blocking.enteredCount(), "all three eventually run once slots free up")
}

// TestPoolDeadlineExceededEndsSessionCancelledNotFailed is the direct
// regression test for the deadline-exceeded handling fix: a task whose
// hard deadline has already passed before the worker picks it up must
// resolve OutcomeCancelled (so the cron scheduler maps it to a timeout),
// never OutcomeFailed.
func TestPoolDeadlineExceededEndsSessionCancelledNotFailed(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("should not be reached")}
	pool, sgw := newTestPool(t, 2, completer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	task := Task{AgentID: "triage", Prompt: "p", Deadline: time.Now().Add(-time.Hour)}
	future, err := pool.Submit(ctx, task)
	require.NoError(t, err)

	res, err := future.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelled, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Equal(t, models.SessionEnded, sgw.statusOf(res.SessionID))
}

// TestPoolExplicitCancelMidCallEndsSessionCancelled cancels a task via
// CancelSession while its Complete call is in flight and asserts the
// same OutcomeCancelled/SessionEnded path as a deadline firing.
func TestPoolExplicitCancelMidCallEndsSessionCancelled(t *testing.T) {
	blocking := &blockingCompleter{release: make(chan struct{})}
	pool, sgw := newTestPool(t, 2, blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	future, err := pool.Submit(ctx, Task{AgentID: "triage", Prompt: "p"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return blocking.enteredCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sgw.onlySessionID() != "" }, time.Second, 5*time.Millisecond)

	require.True(t, pool.CancelSession(sgw.onlySessionID()))

	res, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.Canceled))
	assert.Equal(t, models.SessionEnded, sgw.statusOf(res.SessionID))
}

// TestPoolFailureWithoutCancelIsOutcomeFailed distinguishes a genuine
// call failure (ctx still live) from the cancelled/deadline path: it
// must resolve OutcomeFailed, not OutcomeCancelled.
func TestPoolFailureWithoutCancelIsOutcomeFailed(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("connection reset")}
	pool, sgw := newTestPool(t, 2, completer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	future, err := pool.Submit(ctx, Task{AgentID: "triage", Prompt: "p"})
	require.NoError(t, err)

	res, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, models.SessionActive, sgw.statusOf(res.SessionID))
}

// TestPoolCascadeCancelsChildrenOnParentCompletion registers a child
// session's cancel func against the pool, as a live sub-agent task
// would via run(), and asserts cascadeCancelChildren invokes it once the
// parent session is looked up through the Safety Layer's bookkeeping.
func TestPoolCascadeCancelsChildrenOnParentCompletion(t *testing.T) {
	completer := &fakeCompleter{result: &llm.Result{Content: "done", ModelUsed: "gpt-a"}}
	pool, _ := newTestPool(t, 2, completer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	future, err := pool.Submit(ctx, Task{AgentID: "triage", Prompt: "parent"})
	require.NoError(t, err)
	res, err := future.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)

	childSessionID := "child-session-1"
	childCancelled := make(chan struct{})
	pool.registerCancel(childSessionID, func() { close(childCancelled) })
	pool.safety.RegisterChild(res.SessionID, childSessionID)

	pool.cascadeCancelChildren(res.SessionID)

	select {
	case <-childCancelled:
	case <-time.After(time.Second):
		t.Fatal("cascadeCancelChildren did not cancel the registered child")
	}

	// A second call finds no children left to cancel — Children() is
	// consume-once.
	assert.Empty(t, pool.safety.Children(res.SessionID))
}
