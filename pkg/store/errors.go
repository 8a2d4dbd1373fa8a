// Package store is the Persistence Gateway: the single typed façade over
// the relational store that every other core package goes through
// (spec.md §4.2). No component outside this package issues direct SQL.
package store

import "errors"

// Error classes from spec.md §7.
var (
	// ErrUnavailable wraps connectivity/driver failures. Retryable —
	// callers (the Scheduler, the Agent Pool) defer and try again later.
	ErrUnavailable = errors.New("persistence unavailable")

	// ErrConflict indicates a caller bug: a request that cannot succeed
	// regardless of retry (e.g. referencing a session that doesn't exist).
	ErrConflict = errors.New("persistence conflict")

	// ErrSessionClosed is returned by AppendMessage when the target
	// session has already left the active state.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionNotFound indicates no session exists with the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCronNotFound indicates no cron entry exists with the given id.
	ErrCronNotFound = errors.New("cron entry not found")
)
