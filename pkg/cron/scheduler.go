// Package cron is the Cron Scheduler: owns a set of CronEntry rows plus
// an in-memory min-heap of (next_run_at, entry_id), firing tasks into
// the Agent Pool and recording CronExecution history.
package cron

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/agentloop/agentloop/pkg/agentpool"
	"github.com/agentloop/agentloop/pkg/events"
	"github.com/agentloop/agentloop/pkg/models"
	"github.com/agentloop/agentloop/pkg/safety"
)

// Store is the subset of the Persistence Gateway the scheduler needs.
type Store interface {
	ListCrons(ctx context.Context) ([]models.CronEntry, error)
	GetCron(ctx context.Context, id string) (*models.CronEntry, error)
	UpsertCron(ctx context.Context, entry models.CronEntry) error
	DeleteCron(ctx context.Context, id string) error
	AppendCronHistory(ctx context.Context, exec models.CronExecution) error
	TrimCronHistory(ctx context.Context, cronID string) error
	UpdateCronSchedule(ctx context.Context, cronID string, lastRunAt, nextRunAt *time.Time) error
	ListStaleActiveSessions(ctx context.Context, cutoff time.Time) ([]models.ChatSession, error)
	EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error
}

// Submitter submits a task to the Agent Pool. *agentpool.Pool satisfies this.
type Submitter interface {
	Submit(ctx context.Context, task agentpool.Task) (*agentpool.Future, error)
}

// DegradedNotifier is the recovery policy's optional side-channel
// notification (spec.md §7) for a cron entry that was skipped or failed
// instead of producing a session. *slack.Service satisfies this and is
// itself nil-safe, so this field can be left unset with no nil checks
// needed at the call site.
type DegradedNotifier interface {
	NotifyCronDegraded(ctx context.Context, entry *models.CronEntry, outcome models.CronOutcome, cause string)
}

// pollInterval bounds how long the scheduler ever sleeps without a wake
// signal, so an external reload/add/delete is picked up promptly even
// if no external Wake() call fires (e.g. a wake delivered before the
// scheduler started listening).
const pollInterval = time.Second

// Scheduler is the Cron Scheduler.
type Scheduler struct {
	store    Store
	pool     Submitter
	safety   *safety.Layer
	events   agentpool.Publisher
	notifier DegradedNotifier

	mu          sync.Mutex
	states      map[string]*entryState
	entryHeap   entryHeap
	lastSession map[string]string // cron id -> most recent produced session id (shared_by_job / parent_of_agent)

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. Entries are loaded and scheduled by calling
// Reload before Start.
func New(store Store, pool Submitter, safetyLayer *safety.Layer) *Scheduler {
	return &Scheduler{
		store:       store,
		pool:        pool,
		safety:      safetyLayer,
		states:      make(map[string]*entryState),
		lastSession: make(map[string]string),
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// SetEvents wires the scheduler to broadcast cron.execution events as
// history is recorded. Optional.
func (s *Scheduler) SetEvents(pub agentpool.Publisher) {
	s.events = pub
}

// SetNotifier wires the recovery policy's side-channel notification.
// Optional; a nil notifier (or a nil *slack.Service passed through it)
// means degraded outcomes are recorded but never announced.
func (s *Scheduler) SetNotifier(n DegradedNotifier) {
	s.notifier = n
}

func (s *Scheduler) notifyDegraded(ctx context.Context, entry *models.CronEntry, outcome models.CronOutcome, cause string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyCronDegraded(ctx, entry, outcome, cause)
}

// Wake notifies the scheduler loop to re-evaluate immediately: an entry
// was added, edited, deleted, enabled, disabled, or the catalog reloaded.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Reload re-reads every CronEntry from the store and rebuilds the heap,
// recomputing next_run_at for enabled entries relative to wall-clock UTC
// now. At-most-once semantics: a tick missed while the process was down
// is simply not replayed, since next_run_at is always derived from the
// current time, never from a stored backlog.
func (s *Scheduler) Reload(ctx context.Context) error {
	entries, err := s.store.ListCrons(ctx)
	if err != nil {
		return fmt.Errorf("cron: reload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	now := time.Now().UTC()

	for _, entry := range entries {
		seen[entry.ID] = true
		if !entry.Enabled {
			delete(s.states, entry.ID)
			continue
		}
		next, err := nextFireTime(entry.Schedule, now)
		if err != nil {
			slog.Error("cron: invalid schedule, skipping entry", "cron_id", entry.ID, "schedule", entry.Schedule, "error", err)
			continue
		}
		if st, ok := s.states[entry.ID]; ok {
			st.nextRun = next
			continue
		}
		s.states[entry.ID] = &entryState{cronID: entry.ID, nextRun: next}
	}
	for id := range s.states {
		if !seen[id] {
			delete(s.states, id)
		}
	}

	s.rebuildHeap()
	return nil
}

func (s *Scheduler) rebuildHeap() {
	s.entryHeap = make(entryHeap, 0, len(s.states))
	for _, st := range s.states {
		s.entryHeap = append(s.entryHeap, st)
	}
	heap.Init(&s.entryHeap)
}

// nextFireTime computes the next occurrence of a 5-field or 6-field
// (seconds-prefixed) cron expression after `after`, in UTC.
func nextFireTime(schedule string, after time.Time) (time.Time, error) {
	return gronx.NextTickAfter(schedule, after, false)
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.wakeCh:
		case <-timer.C:
		}

		s.sweepStale(ctx)
		s.fireDue(ctx)

		timer.Reset(s.untilNextWake())
	}
}

func (s *Scheduler) sweepStale(ctx context.Context) {
	n, err := s.safety.SweepStale(ctx, s.store, s.store, time.Now().UTC())
	if err != nil {
		slog.Error("cron: stale sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("cron: stale sweep force-ended sessions", "count", n)
	}
}

func (s *Scheduler) untilNextWake() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entryHeap) == 0 {
		return pollInterval
	}
	d := time.Until(s.entryHeap[0].nextRun)
	if d < 0 {
		d = 0
	}
	if d > pollInterval {
		d = pollInterval
	}
	return d
}

// fireDue pops every entry whose nextRun has arrived, fires it, and
// reschedules it for its next occurrence.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now().UTC()

	for {
		s.mu.Lock()
		if len(s.entryHeap) == 0 || s.entryHeap[0].nextRun.After(now) {
			s.mu.Unlock()
			break
		}
		st := s.entryHeap[0]
		s.mu.Unlock()

		s.fireOne(ctx, st, now)

		s.mu.Lock()
		entry, err := s.store.GetCron(ctx, st.cronID)
		if err != nil {
			heap.Remove(&s.entryHeap, st.heapIndex)
			delete(s.states, st.cronID)
			s.mu.Unlock()
			continue
		}
		next, err := nextFireTime(entry.Schedule, now)
		if err != nil {
			heap.Remove(&s.entryHeap, st.heapIndex)
			delete(s.states, st.cronID)
			s.mu.Unlock()
			continue
		}
		st.nextRun = next
		heap.Fix(&s.entryHeap, st.heapIndex)
		s.mu.Unlock()
	}
}

// fireOne runs the fire procedure (spec.md §4.6) for a single entry.
func (s *Scheduler) fireOne(ctx context.Context, st *entryState, now time.Time) {
	entry, err := s.store.GetCron(ctx, st.cronID)
	if err != nil {
		return
	}

	s.mu.Lock()
	alreadyFiring := st.firing
	s.mu.Unlock()

	if alreadyFiring && entry.SessionMode == models.SessionModeEphemeral {
		s.recordOutcome(ctx, entry.ID, now, models.OutcomeSkippedStillActive, "")
		s.notifyDegraded(ctx, entry, models.OutcomeSkippedStillActive, "previous ephemeral run still in flight")
		return
	}

	agent := entry.TargetAgent
	task := agentpool.Task{
		AgentID:     agent,
		Prompt:      entry.Payload,
		Deadline:    now.Add(entry.MaxDuration),
		TaskTypeTag: "cron",
	}

	switch entry.SessionMode {
	case models.SessionModeSharedByJob:
		task.SessionID = s.lastSession[entry.ID]
	case models.SessionModeParentOfAgent:
		task.ParentSessionID = s.lastSession[entry.ID]
	}

	// The CB-open veto itself is evaluated by Pool.Submit against the
	// real catalog entry for the agent (fallback chain, tier order);
	// duplicating it here would need the full *models.Agent, which the
	// scheduler doesn't have. A vetoed submission surfaces as an error
	// from Submit below and is recorded as skipped_cb_open.

	s.mu.Lock()
	st.firing = true
	s.mu.Unlock()

	future, err := s.pool.Submit(ctx, task)
	if err != nil {
		s.mu.Lock()
		st.firing = false
		s.mu.Unlock()

		outcome := models.OutcomeFailure
		if isDegraded(err) {
			outcome = models.OutcomeSkippedCBOpen
		}
		s.recordOutcome(ctx, entry.ID, now, outcome, "")
		s.notifyDegraded(ctx, entry, outcome, err.Error())
		return
	}

	result, waitErr := future.Wait(ctx)

	s.mu.Lock()
	st.firing = false
	s.mu.Unlock()

	if waitErr != nil {
		s.recordOutcome(ctx, entry.ID, now, models.OutcomeTimeout, "")
		s.notifyDegraded(ctx, entry, models.OutcomeTimeout, waitErr.Error())
		return
	}

	outcome := models.OutcomeSuccess
	switch result.Outcome {
	case agentpool.OutcomeFailed:
		outcome = models.OutcomeFailure
	case agentpool.OutcomeCancelled:
		outcome = models.OutcomeTimeout
	}

	s.lastSession[entry.ID] = result.SessionID
	s.recordOutcome(ctx, entry.ID, now, outcome, result.SessionID)
	if outcome != models.OutcomeSuccess {
		cause := ""
		if result.Err != nil {
			cause = result.Err.Error()
		}
		s.notifyDegraded(ctx, entry, outcome, cause)
	}
}

func (s *Scheduler) recordOutcome(ctx context.Context, cronID string, startedAt time.Time, outcome models.CronOutcome, producedSessionID string) {
	ended := time.Now().UTC()
	if err := s.store.AppendCronHistory(ctx, models.CronExecution{
		CronID: cronID, StartedAt: startedAt, EndedAt: &ended,
		Outcome: outcome, ProducedSessionID: producedSessionID,
	}); err != nil {
		slog.Error("cron: failed to record execution history", "cron_id", cronID, "error", err)
		return
	}
	if err := s.store.TrimCronHistory(ctx, cronID); err != nil {
		slog.Error("cron: failed to trim execution history", "cron_id", cronID, "error", err)
	}
	_ = s.store.UpdateCronSchedule(ctx, cronID, &ended, nil)

	if s.events != nil {
		s.events.Publish(events.CronChannel(cronID), events.CronExecutionPayload{
			Type: events.EventTypeCronExecution, CronID: cronID, Outcome: string(outcome),
			ProducedSessionID: producedSessionID, Timestamp: ended.Format(time.RFC3339Nano),
		})
	}
}

func isDegraded(err error) bool {
	return errors.Is(err, safety.ErrDegraded)
}
