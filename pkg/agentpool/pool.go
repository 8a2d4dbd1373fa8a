package agentpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentloop/agentloop/pkg/config"
	"github.com/agentloop/agentloop/pkg/events"
	"github.com/agentloop/agentloop/pkg/llm"
	"github.com/agentloop/agentloop/pkg/models"
	"github.com/agentloop/agentloop/pkg/safety"
	"github.com/agentloop/agentloop/pkg/session"
)

// ErrUnknownSession is returned when a task names an explicit session
// id that either doesn't exist, isn't active, or belongs to another
// agent.
var ErrUnknownSession = errors.New("agentpool: session not usable for this task")

// Publisher broadcasts a domain event to subscribed WebSocket clients.
// Satisfied by *events.ConnectionManager; nil-safe when unset so the
// pool runs fine in tests with no event wiring.
type Publisher interface {
	Publish(channel string, v any)
}

// Catalog is the subset of *config.Config the Agent Pool depends on.
// Defined here, not imported as the concrete type, so this package only
// names the shapes it uses and tests can supply a fake catalog instead
// of a file-backed *config.Config.
type Catalog interface {
	Agent(id string) (*models.Agent, error)
	Queue() *config.QueueConfig
	Models() *config.ModelRegistry
}

// Completer issues one chat turn through the LLM Gateway's candidate
// chain. *llm.Gateway satisfies this; tests supply a fake to avoid real
// network calls and breaker timing.
type Completer interface {
	Complete(ctx context.Context, agentID string, req llm.Request, deadline time.Duration) (*llm.Result, error)
}

type envelope struct {
	task   Task
	future *Future
}

// Pool is the Agent Pool: a bounded worker set consuming a FIFO queue of
// submitted tasks.
type Pool struct {
	cfg      Catalog
	sessions *session.Store
	gateway  Completer
	safety   *safety.Layer
	mind     *mindPromptLoader
	scores   *pheromones
	events   Publisher

	queue chan envelope
	sem   chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	cancels map[string]context.CancelFunc
}

// New builds a Pool. mindFilesBaseDir resolves relative MindFiles paths
// from agent config.
func New(cfg Catalog, sessions *session.Store, gateway Completer, safetyLayer *safety.Layer, mindFilesBaseDir string) *Pool {
	maxConcurrent := cfg.Queue().MaxConcurrent
	return &Pool{
		cfg:      cfg,
		sessions: sessions,
		gateway:  gateway,
		safety:   safetyLayer,
		mind:     newMindPromptLoader(mindFilesBaseDir),
		scores:   newPheromones(),
		queue:    make(chan envelope, 256),
		sem:      make(chan struct{}, maxConcurrent),
		stopCh:   make(chan struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// SetEvents wires the pool to broadcast session/message events as they
// happen. Optional — a pool with no events set runs identically, just
// silently.
func (p *Pool) SetEvents(pub Publisher) {
	p.events = pub
}

func (p *Pool) publish(channel string, v any) {
	if p.events == nil {
		return
	}
	p.events.Publish(channel, v)
}

// Start spawns the dispatch loop that pulls from the queue and executes
// tasks, bounded to MAX_CONCURRENT concurrent executions.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatch(ctx)
	}()
}

// Stop signals the dispatch loop to stop accepting new work and waits
// for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pool) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case env := <-p.queue:
			p.sem <- struct{}{}
			p.wg.Add(1)
			go func(env envelope) {
				defer p.wg.Done()
				defer func() { <-p.sem }()
				defer func() {
					if r := recover(); r != nil {
						slog.Error("agentpool: task panicked", "agent_id", env.task.AgentID, "panic", r)
						select {
						case <-env.future.done:
						default:
							env.future.resolve(Result{Outcome: OutcomeFailed, Err: fmt.Errorf("agentpool: task panicked: %v", r)})
						}
					}
				}()
				p.run(ctx, env)
			}(env)
		}
	}
}

// Submit enqueues a task and returns a Future for its result. Submission
// itself enforces the Safety Layer's spawn budget (when SpawnDepth > 0)
// and the CB-open veto; both are checked here rather than inside run()
// so a vetoed task never occupies a worker slot.
func (p *Pool) Submit(ctx context.Context, task Task) (*Future, error) {
	agent, err := p.cfg.Agent(task.AgentID)
	if err != nil {
		return nil, err
	}

	if task.SpawnDepth > 0 {
		childrenSoFar := 0
		if task.ParentSessionID != "" {
			childrenSoFar = p.safety.ChildCount(task.ParentSessionID)
		}
		if err := p.safety.CheckSpawnBudget(task.SpawnDepth, childrenSoFar); err != nil {
			return nil, err
		}
	}

	tierModels := p.tierModelIDs()
	if err := p.safety.CheckCBOpen(agent, tierModels); err != nil {
		return nil, err
	}

	future := newFuture()
	select {
	case p.queue <- envelope{task: task, future: future}:
		return future, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) tierModelIDs() []string {
	var out []string
	for _, tier := range p.cfg.Models().TierOrder() {
		out = append(out, p.cfg.Models().ModelsInTier(tier)...)
	}
	return out
}

// CancelSession cancels an in-flight task's context, if it is running on
// this pool. Returns true if found.
func (p *Pool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.cancels[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

func (p *Pool) registerCancel(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels[sessionID] = cancel
}

func (p *Pool) unregisterCancel(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, sessionID)
}

// run executes the per-task contract: resolve agent, acquire session,
// compose messages, call the Gateway, persist the outcome, cascade-cancel
// any sub-agent children.
func (p *Pool) run(parent context.Context, env envelope) {
	task := env.task
	ctx := parent
	var cancel context.CancelFunc
	if !task.Deadline.IsZero() {
		ctx, cancel = context.WithDeadline(parent, task.Deadline)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	agent, err := p.cfg.Agent(task.AgentID)
	if err != nil {
		env.future.resolve(Result{Outcome: OutcomeFailed, Err: err})
		return
	}

	sessionID, created, err := p.acquireSession(ctx, task, agent)
	if err != nil {
		env.future.resolve(Result{Outcome: OutcomeFailed, Err: err})
		return
	}
	_ = created

	if created {
		p.publishSessionStatus(sessionID, agent.ID, "started")
	}
	if created && task.SpawnDepth > 0 && task.ParentSessionID != "" {
		p.safety.RegisterChild(task.ParentSessionID, sessionID)
	}

	p.registerCancel(sessionID, cancel)
	defer p.unregisterCancel(sessionID)
	defer p.cascadeCancelChildren(sessionID)

	result := p.executeTurn(ctx, agent, sessionID, task)

	status := "completed"
	switch result.Outcome {
	case OutcomeFailed:
		status = "failed"
	case OutcomeCancelled:
		status = "cancelled"
	}
	p.publishSessionStatus(sessionID, agent.ID, status)

	env.future.resolve(result)
}

func (p *Pool) publishSessionStatus(sessionID, agentID, status string) {
	payload := events.SessionStatusPayload{
		Type: events.EventTypeSessionStatus, SessionID: sessionID, AgentID: agentID,
		Status: status, Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	p.publish(events.SessionChannel(sessionID), payload)
	p.publish(events.GlobalSessionsChannel, payload)
}

func (p *Pool) publishMessageAppended(sessionID, messageID string, role models.MessageRole, content, model string) {
	p.publish(events.SessionChannel(sessionID), events.MessageAppendedPayload{
		Type: events.EventTypeMessageAppended, SessionID: sessionID, MessageID: messageID,
		Role: string(role), Content: content, Model: model,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// acquireSession resolves the session to use: the explicit one if given
// (validated active and owned by this agent), otherwise a freshly
// created one of a type inferred from the task shape.
func (p *Pool) acquireSession(ctx context.Context, task Task, agent *models.Agent) (sessionID string, created bool, err error) {
	if task.SessionID != "" {
		existing, err := p.sessions.Get(ctx, task.SessionID)
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrUnknownSession, err)
		}
		if existing.AgentID != agent.ID || existing.IsTerminal() {
			return "", false, fmt.Errorf("%w: session %s not active for agent %s", ErrUnknownSession, task.SessionID, agent.ID)
		}
		return existing.ID, false, nil
	}

	sessionType := models.SessionInteractive
	switch {
	case task.SpawnDepth > 0:
		sessionType = models.SessionSubAgent
	case task.TaskTypeTag == "cron":
		sessionType = models.SessionCron
	}

	id, err := p.sessions.Create(ctx, agent.ID, sessionType, task.ParentSessionID, nil)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (p *Pool) executeTurn(ctx context.Context, agent *models.Agent, sessionID string, task Task) Result {
	_, history, err := p.sessions.History(ctx, sessionID)
	if err != nil {
		return Result{SessionID: sessionID, Outcome: OutcomeFailed, Err: err}
	}

	systemPrompt, err := p.mind.load(agent)
	if err != nil {
		slog.Warn("agentpool: failed to load mind files, continuing without system prompt", "agent_id", agent.ID, "error", err)
	}

	messages := composeMessages(systemPrompt, history, task.Prompt, task.ContextBudget)

	userMsgID, err := p.sessions.Append(ctx, models.Message{
		SessionID: sessionID, Role: models.RoleUser, Content: task.Prompt, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Result{SessionID: sessionID, Outcome: OutcomeFailed, Err: err}
	}
	p.publishMessageAppended(sessionID, userMsgID, models.RoleUser, task.Prompt, "")

	deadline := time.Until(task.Deadline)
	if task.Deadline.IsZero() {
		deadline = agent.Timeout
	}

	llmResult, err := p.gateway.Complete(ctx, agent.ID, llm.Request{Messages: messages}, deadline)

	if err != nil {
		return p.handleFailure(ctx, agent, sessionID, task, err)
	}

	p.scores.record(agent.ID, task.TaskTypeTag, true, llmResult.LatencyMS, llmResult.CostUSD)

	msgID, appendErr := p.sessions.Append(ctx, models.Message{
		SessionID: sessionID, Role: models.RoleAssistantMsg, Content: llmResult.Content,
		Model: llmResult.ModelUsed, InputTokens: llmResult.InputTokens, OutputTokens: llmResult.OutputTokens,
		CostUSD: llmResult.CostUSD, LatencyMS: llmResult.LatencyMS, FinishReason: llmResult.FinishReason,
		CreatedAt: time.Now().UTC(),
	})
	if appendErr != nil {
		return Result{SessionID: sessionID, Outcome: OutcomeFailed, Err: appendErr}
	}
	p.publishMessageAppended(sessionID, msgID, models.RoleAssistantMsg, llmResult.Content, llmResult.ModelUsed)

	return Result{SessionID: sessionID, MessageID: msgID, Content: llmResult.Content, Outcome: OutcomeCompleted}
}

func (p *Pool) handleFailure(ctx context.Context, agent *models.Agent, sessionID string, task Task, callErr error) Result {
	p.scores.record(agent.ID, task.TaskTypeTag, false, 0, 0)

	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		_ = p.sessions.End(ctx, sessionID, models.SessionEnded)
		return Result{SessionID: sessionID, Outcome: OutcomeCancelled, Err: ctx.Err()}
	}

	_, _ = p.sessions.Append(ctx, models.Message{
		SessionID: sessionID, Role: models.RoleAssistantMsg,
		Content: fmt.Sprintf("request failed: %v", callErr), FinishReason: "error", CreatedAt: time.Now().UTC(),
	})

	if task.TaskTypeTag == "cron" {
		_ = p.sessions.End(ctx, sessionID, models.SessionFailed)
	}

	return Result{SessionID: sessionID, Outcome: OutcomeFailed, Err: callErr}
}

func (p *Pool) cascadeCancelChildren(sessionID string) {
	for _, childID := range p.safety.Children(sessionID) {
		p.CancelSession(childID)
	}
}
