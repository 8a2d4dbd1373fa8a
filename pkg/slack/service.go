package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentloop/agentloop/pkg/models"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service posts the recovery policy's optional side-channel notification
// when a cron entry degrades instead of spawning a task. Nil-safe: every
// method is a no-op when the Service itself is nil, so callers can wire
// it unconditionally.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack notification service. Returns nil if
// Token or Channel is empty, matching spec.md §7's "optionally" — the
// notification is only wired when both are configured.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{client: client, logger: slog.Default().With("component", "slack-service")}
}

// NotifyCronDegraded posts a degraded-cron-entry notification. Fail-open:
// delivery errors are logged, never returned, so a Slack outage never
// blocks the scheduler tick that triggered the notification.
func (s *Service) NotifyCronDegraded(ctx context.Context, entry *models.CronEntry, outcome models.CronOutcome, cause string) {
	if s == nil {
		return
	}
	blocks := BuildDegradedMessage(entry, outcome, cause)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("failed to send Slack degraded-cron notification",
			"cron_id", entry.ID, "outcome", outcome, "error", err)
	}
}
