// Package run defines the data model shared by the orchestration core:
// runs, their ordered step records, gate decisions, and the fixed step
// sequence every run executes.
package run

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// IsActive reports whether the run still occupies (or may occupy) scheduler
// attention: queued, running, or paused awaiting a gate decision.
func (s Status) IsActive() bool {
	return !s.IsTerminal()
}

// StepStatus is the lifecycle state of a single step within a run.
type StepStatus string

const (
	StepQueued  StepStatus = "queued"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepError   StepStatus = "error"
)

// StepOrder is the fixed sequence of steps every run executes, in order.
// Step names are stable identifiers shared by run records on disk; do not
// reorder or rename entries without a record migration.
var StepOrder = []string{
	"brief",
	"research",
	"source_vetting",
	"outline",
	"outline_review",
	"section_draft",
	"evidence_weave",
	"citations",
	"fact_check",
	"draft_review",
	"revision",
	"style_pass",
	"constraint_check",
	"final_review",
	"final_assembly",
	"publish_package",
}

// StepIndex returns the position of a step in StepOrder, or -1 if the name
// is not a known step.
func StepIndex(name string) int {
	for i, s := range StepOrder {
		if s == name {
			return i
		}
	}
	return -1
}

// ValidStep reports whether name is one of the fixed steps.
func ValidStep(name string) bool {
	return StepIndex(name) >= 0
}

// StepRecord tracks the progress of one step within a run.
type StepRecord struct {
	Status     StepStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Artifacts is an ordered set of filenames produced by the step.
	// Re-adding an existing name is a no-op.
	Artifacts []string `json:"artifacts"`
	Error     string   `json:"error,omitempty"`
}

// HasArtifact reports whether the step already recorded the named artifact.
func (r *StepRecord) HasArtifact(name string) bool {
	for _, a := range r.Artifacts {
		if a == name {
			return true
		}
	}
	return false
}

// DerivedFrom records that a run was created as a partial rerun of a parent,
// reusing the parent's artifacts for all steps strictly before StartFrom.
type DerivedFrom struct {
	RunID     string    `json:"run_id"`
	StartFrom string    `json:"start_from"`
	CreatedAt time.Time `json:"created_at"`
}

// ActiveGate describes the human-review checkpoint a paused run is waiting
// on. Present on a run if and only if its status is paused.
type ActiveGate struct {
	GateID     string    `json:"gate_id"`
	ResumeFrom string    `json:"resume_from"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
	Awaiting   bool      `json:"awaiting"`
}

// Run is one end-to-end content-generation job with its own id, settings,
// and per-step progress. Runs are created once, mutated exclusively through
// the store, and physically destroyed only by the retention engine once
// terminal.
type Run struct {
	ID                  string                 `json:"run_id"`
	Topic               string                 `json:"topic"`
	Settings            map[string]any         `json:"settings,omitempty"`
	Status              Status                 `json:"status"`
	Steps               map[string]*StepRecord `json:"steps"`
	DerivedFrom         *DerivedFrom           `json:"derived_from,omitempty"`
	ActiveGate          *ActiveGate            `json:"active_gate,omitempty"`
	TraceID             string                 `json:"trace_id,omitempty"`
	CanonicalSources    []string               `json:"canonical_sources,omitempty"`
	ConstraintAdherence map[string]bool        `json:"constraint_adherence,omitempty"`
	StartedAt           time.Time              `json:"started_at"`
	FinishedAt          *time.Time             `json:"finished_at,omitempty"`
}

// New creates a queued run with every step initialized to queued.
func New(id, topic string, settings map[string]any) *Run {
	steps := make(map[string]*StepRecord, len(StepOrder))
	for _, name := range StepOrder {
		steps[name] = &StepRecord{Status: StepQueued, Artifacts: []string{}}
	}
	return &Run{
		ID:        id,
		Topic:     topic,
		Settings:  settings,
		Status:    StatusQueued,
		Steps:     steps,
		StartedAt: time.Now(),
	}
}

// Clone returns a deep copy of the run, safe for callers to inspect or
// modify without racing store mutations.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Steps = make(map[string]*StepRecord, len(r.Steps))
	for name, rec := range r.Steps {
		rc := *rec
		rc.Artifacts = append([]string(nil), rec.Artifacts...)
		cp.Steps[name] = &rc
	}
	if r.DerivedFrom != nil {
		df := *r.DerivedFrom
		cp.DerivedFrom = &df
	}
	if r.ActiveGate != nil {
		ag := *r.ActiveGate
		cp.ActiveGate = &ag
	}
	cp.CanonicalSources = append([]string(nil), r.CanonicalSources...)
	if r.ConstraintAdherence != nil {
		ca := make(map[string]bool, len(r.ConstraintAdherence))
		for k, v := range r.ConstraintAdherence {
			ca[k] = v
		}
		cp.ConstraintAdherence = ca
	}
	return &cp
}

// NewID generates a short opaque run token: 8 random bytes, hex-encoded.
func NewID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
