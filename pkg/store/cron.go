package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentloop/agentloop/pkg/models"
)

// MaxCronHistory bounds how many CronExecution rows are retained per
// cron entry; TrimCronHistory deletes the oldest rows past this count.
const MaxCronHistory = 100

// UpsertCron creates or replaces a cron entry definition. The schedule
// string and agent reference are validated by the caller (the HTTP API's
// upsert handler, via pkg/config) before reaching here; the gateway only
// persists.
func (g *Gateway) UpsertCron(ctx context.Context, entry models.CronEntry) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO cron_entries (id, name, schedule, enabled, payload, target_agent,
		                           session_mode, max_duration_ms, retry_count, last_run_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			schedule = EXCLUDED.schedule,
			enabled = EXCLUDED.enabled,
			payload = EXCLUDED.payload,
			target_agent = EXCLUDED.target_agent,
			session_mode = EXCLUDED.session_mode,
			max_duration_ms = EXCLUDED.max_duration_ms,
			retry_count = EXCLUDED.retry_count
	`, entry.ID, entry.Name, entry.Schedule, entry.Enabled, entry.Payload, entry.TargetAgent,
		string(entry.SessionMode), entry.MaxDuration.Milliseconds(), entry.RetryCount,
		entry.LastRunAt, entry.NextRunAt)
	return classifyErr(err)
}

// DeleteCron removes a cron entry and, via ON DELETE CASCADE, its history.
func (g *Gateway) DeleteCron(ctx context.Context, cronID string) error {
	res, err := g.db.ExecContext(ctx, `DELETE FROM cron_entries WHERE id = $1`, cronID)
	if err != nil {
		return classifyErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCronNotFound, cronID)
	}
	return nil
}

// GetCron loads a single cron entry.
func (g *Gateway) GetCron(ctx context.Context, cronID string) (*models.CronEntry, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT id, name, schedule, enabled, payload, target_agent, session_mode,
		       max_duration_ms, retry_count, last_run_at, next_run_at
		FROM cron_entries WHERE id = $1
	`, cronID)
	e, err := scanCronEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCronNotFound, cronID)
	}
	if err != nil {
		return nil, classifyErr(err)
	}
	return e, nil
}

// ListCrons returns every configured cron entry.
func (g *Gateway) ListCrons(ctx context.Context) ([]models.CronEntry, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, name, schedule, enabled, payload, target_agent, session_mode,
		       max_duration_ms, retry_count, last_run_at, next_run_at
		FROM cron_entries ORDER BY id
	`)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []models.CronEntry
	for rows.Next() {
		e, err := scanCronEntry(rows)
		if err != nil {
			return nil, classifyErr(err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCronEntry(row rowScanner) (*models.CronEntry, error) {
	var e models.CronEntry
	var sessionMode string
	var maxDurationMS int64
	err := row.Scan(&e.ID, &e.Name, &e.Schedule, &e.Enabled, &e.Payload, &e.TargetAgent,
		&sessionMode, &maxDurationMS, &e.RetryCount, &e.LastRunAt, &e.NextRunAt)
	if err != nil {
		return nil, err
	}
	e.SessionMode = models.SessionMode(sessionMode)
	e.MaxDuration = time.Duration(maxDurationMS) * time.Millisecond
	return &e, nil
}

// UpdateCronSchedule records the scheduler's next planned fire time and
// the time of its most recent fire; called once per tick per entry.
func (g *Gateway) UpdateCronSchedule(ctx context.Context, cronID string, lastRunAt, nextRunAt *time.Time) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE cron_entries SET last_run_at = $1, next_run_at = $2 WHERE id = $3
	`, lastRunAt, nextRunAt, cronID)
	return classifyErr(err)
}

// AppendCronHistory records the outcome of one cron fire.
func (g *Gateway) AppendCronHistory(ctx context.Context, exec models.CronExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	var produced any
	if exec.ProducedSessionID != "" {
		produced = exec.ProducedSessionID
	}
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO cron_executions (id, cron_id, started_at, ended_at, outcome, produced_session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, exec.ID, exec.CronID, exec.StartedAt, exec.EndedAt, string(exec.Outcome), produced)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: cron entry %s does not exist", ErrConflict, exec.CronID)
		}
		return classifyErr(err)
	}
	return nil
}

// ListCronHistory returns a cron entry's executions, most recent first.
func (g *Gateway) ListCronHistory(ctx context.Context, cronID string, limit int) ([]models.CronExecution, error) {
	if limit <= 0 {
		limit = MaxCronHistory
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, cron_id, started_at, ended_at, outcome, COALESCE(produced_session_id::text, '')
		FROM cron_executions WHERE cron_id = $1 ORDER BY started_at DESC LIMIT $2
	`, cronID, limit)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	var out []models.CronExecution
	for rows.Next() {
		var e models.CronExecution
		var outcome string
		if err := rows.Scan(&e.ID, &e.CronID, &e.StartedAt, &e.EndedAt, &outcome, &e.ProducedSessionID); err != nil {
			return nil, classifyErr(err)
		}
		e.Outcome = models.CronOutcome(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

// TrimCronHistory deletes execution rows past MaxCronHistory for a cron
// entry, oldest first. Called after every AppendCronHistory.
func (g *Gateway) TrimCronHistory(ctx context.Context, cronID string) error {
	_, err := g.db.ExecContext(ctx, `
		DELETE FROM cron_executions
		WHERE cron_id = $1 AND id NOT IN (
			SELECT id FROM cron_executions WHERE cron_id = $1 ORDER BY started_at DESC LIMIT $2
		)
	`, cronID, MaxCronHistory)
	return classifyErr(err)
}
