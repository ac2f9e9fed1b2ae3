// Package errors provides centralized error definitions for the draftforge
// orchestration core. It defines the sentinel errors of the run lifecycle,
// a ChildProcessError carrying captured child output, and classification
// helpers used by the scheduler when settling a run.
//
// Lookup misses and invalid transitions are deliberately NOT errors in this
// codebase: store mutators are no-ops for unknown run ids and scheduler
// operations return false on conflicts, because API callers routinely probe
// transient state. The sentinels here cover the cases that do surface as
// errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience so callers can
// import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Run lifecycle sentinel errors.
var (
	// ErrRunNotFound indicates that a run could not be found.
	ErrRunNotFound = New("run not found")
	// ErrCancelled indicates that a run was cooperatively aborted.
	ErrCancelled = New("cancelled")
	// ErrInvalidStep indicates a step name outside the fixed step order.
	ErrInvalidStep = New("invalid step")
	// ErrInvalidGate indicates an unknown gate id.
	ErrInvalidGate = New("invalid gate")
	// ErrInvalidDecision indicates a gate decision with an unrecognized status.
	ErrInvalidDecision = New("invalid gate decision")
	// ErrRerunNotReady indicates a partial rerun whose parent has incomplete
	// steps before the requested start point.
	ErrRerunNotReady = New("parent run has incomplete steps before rerun start")
)

// Child process sentinel errors.
var (
	// ErrChildTimeout indicates the parent-side hard deadline fired before
	// the child produced a response.
	ErrChildTimeout = New("agent call timed out")
	// ErrChildExited indicates the child process exited before responding.
	ErrChildExited = New("agent process exited before responding")
)

// ChildProcessError is an agent-call failure escalated with the child's
// combined stdout/stderr attached for diagnosis.
type ChildProcessError struct {
	Step   string
	Cause  error
	Stdout string
	Stderr string
}

// NewChildProcessError wraps cause with the output captured from the child.
func NewChildProcessError(step string, cause error, stdout, stderr string) *ChildProcessError {
	return &ChildProcessError{Step: step, Cause: cause, Stdout: stdout, Stderr: stderr}
}

// Error returns the failure message with captured output appended.
func (e *ChildProcessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent call failed [step=%s]: %v", e.Step, e.Cause)
	if out := strings.TrimSpace(e.Stdout); out != "" {
		fmt.Fprintf(&b, "\nstdout: %s", out)
	}
	if out := strings.TrimSpace(e.Stderr); out != "" {
		fmt.Fprintf(&b, "\nstderr: %s", out)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ChildProcessError) Unwrap() error {
	return e.Cause
}

// IsCancelled reports whether err stems from cooperative cancellation,
// either our sentinel or a context cancellation.
func IsCancelled(err error) bool {
	return Is(err, ErrCancelled) || Is(err, context.Canceled)
}

// IsChildProcess reports whether err is (or wraps) a ChildProcessError.
func IsChildProcess(err error) bool {
	var cpe *ChildProcessError
	return As(err, &cpe)
}

// Stringify renders an arbitrary settlement failure for the run record.
// Nil errors become the empty string so callers can gate event emission
// on a non-empty message.
func Stringify(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
