// Package llm is the LLM Gateway: the single choke point for outbound
// model traffic, fronted by a per-model circuit breaker.
package llm

import "errors"

var (
	// ErrInvariant marks a failure that retrying or falling back cannot
	// fix — a malformed request, an unsupported tool schema, a prompt
	// that exceeds the model's context window. The Gateway returns this
	// immediately without trying further candidates and without opening
	// the model's breaker.
	ErrInvariant = errors.New("llm: invariant error")

	// ErrExhausted is returned when every candidate model was either
	// breaker-open or failed the call. The caller decides whether to
	// persist a failed message or stop the session.
	ErrExhausted = errors.New("llm: all candidates exhausted")

	// ErrNoCandidates means the agent's primary/fallback/tier chain
	// resolved to zero usable model ids — a config error, not a runtime
	// one, but surfaced the same way callers handle exhaustion.
	ErrNoCandidates = errors.New("llm: no candidate models configured")
)
