// Package session is the Session Store: a thin layer over the
// Persistence Gateway that adds the read/export contracts a session's
// consumers need (the HTTP API, the WebSocket event stream, the CLI)
// without any of them issuing SQL directly.
package session

import (
	"context"

	"github.com/agentloop/agentloop/pkg/models"
)

// Gateway is the subset of *store.Gateway the Session Store depends on.
// Defined here so this package only names the shapes it uses.
type Gateway interface {
	CreateSession(ctx context.Context, agentID string, sessionType models.SessionType, parentSessionID string, metadata map[string]any) (string, error)
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	EndSession(ctx context.Context, sessionID string, status models.SessionStatus) error
	AppendMessage(ctx context.Context, msg models.Message) (string, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
}

// Store is the Session Store façade.
type Store struct {
	gw Gateway
}

// New builds a Store over a Persistence Gateway.
func New(gw Gateway) *Store {
	return &Store{gw: gw}
}

// Create opens a new session for agentID.
func (s *Store) Create(ctx context.Context, agentID string, sessionType models.SessionType, parentSessionID string, metadata map[string]any) (string, error) {
	return s.gw.CreateSession(ctx, agentID, sessionType, parentSessionID, metadata)
}

// Get loads a session.
func (s *Store) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	return s.gw.GetSession(ctx, sessionID)
}

// End transitions a session to a terminal status. Idempotent.
func (s *Store) End(ctx context.Context, sessionID string, status models.SessionStatus) error {
	return s.gw.EndSession(ctx, sessionID, status)
}

// Append records one message. A WebSocket streaming caller must only
// call this once a turn's tokens are fully assembled — partial tokens
// are never persisted, only the final content.
func (s *Store) Append(ctx context.Context, msg models.Message) (string, error) {
	return s.gw.AppendMessage(ctx, msg)
}

// History returns a session's messages plus its current totals in one
// read, so callers never observe a totals/messages pair from different
// points in time.
func (s *Store) History(ctx context.Context, sessionID string) (*models.ChatSession, []models.Message, error) {
	session, err := s.gw.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.gw.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, msgs, nil
}
