// Package agent provides the isolation layer for external agent calls.
// Every call runs in a freshly spawned OS process with a structured stdio
// channel, a parent-side hard deadline, and an unconditional kill on
// timeout, cancellation, or unexpected exit. A hung or crashing call can
// never block the orchestrator: calls share no process state.
package agent

import (
	"context"
	"time"
)

// Request describes one agent invocation.
type Request struct {
	// Tag is a random id used to discard stale or mismatched responses on
	// the child's stdout. Populated by the executor; callers leave it empty.
	Tag           string `json:"tag"`
	RunID         string `json:"run_id"`
	Step          string `json:"step"`
	AgentKey      string `json:"agent_key"`
	Prompt        string `json:"prompt"`
	MaxTurns      int    `json:"max_turns"`
	TimeoutMs     int64  `json:"timeout_ms"`
	VectorStoreID string `json:"vector_store_id,omitempty"`
}

// Timeout returns the request's soft deadline as a duration.
func (r Request) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Response is the child's answer to a request, tagged with the request id.
// OK=false carries the child-side failure in Error.
type Response struct {
	Tag    string `json:"tag"`
	OK     bool   `json:"ok"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Executor performs agent calls. The production implementation spawns one
// process per call; tests use the in-memory Stub so orchestration logic
// under test never forks real processes.
type Executor interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// hardDeadline computes the parent-side ceiling for a call: always stricter
// than any timeout the child enforces internally.
func hardDeadline(soft time.Duration) time.Duration {
	const floor = 10 * time.Second
	hard := soft + time.Second
	if hard < floor {
		return floor
	}
	return hard
}
