// Package pipeline defines the contract between the scheduler and the
// content-generation pipeline, which is implemented outside the
// orchestration core. The pipeline performs a run's steps through the run
// store and the agent isolation layer, and reports how the run settled via
// an explicit tagged Outcome rather than control-flow errors, so "pause"
// and "failure" handling stay orthogonal and exhaustively checkable.
package pipeline

import "context"

// Pause requests a human-review suspension of the run. It is a successful
// settlement, not a failure: the scheduler frees the run's slot, records
// the gate, and waits for a resume.
type Pause struct {
	// GateID names the review checkpoint.
	GateID string
	// ResumeFrom is the step execution restarts from after resume.
	ResumeFrom string
	// Message is shown to the reviewer.
	Message string
}

// Outcome is how a pipeline invocation settled. Exactly one of the three
// cases holds: done (zero Outcome, nil error), paused (non-nil Pause), or
// failed (non-nil error returned alongside).
type Outcome struct {
	Pause *Pause
}

// Done reports a normal completion.
func Done() Outcome {
	return Outcome{}
}

// Paused reports a human-review suspension at the named gate.
func Paused(gateID, resumeFrom, message string) Outcome {
	return Outcome{Pause: &Pause{GateID: gateID, ResumeFrom: resumeFrom, Message: message}}
}

// Func executes a run's steps starting at startFrom (empty means the first
// step). The context carries cooperative cancellation: implementations must
// observe ctx at every await point and thread it into every agent call.
type Func func(ctx context.Context, runID, startFrom string) (Outcome, error)
