// Package gate implements the human-review checkpoint protocol: an
// append-only per-run decision log plus the pause/resume handshake layered
// on the scheduler. The controller records decisions and re-admits paused
// runs; it does not verify that a decision exists before resume. That
// policy belongs to the pipeline, which consults LatestDecision before
// proceeding past the gate's step.
package gate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/draftforge/draftforge/internal/errors"
	"github.com/draftforge/draftforge/internal/event"
	"github.com/draftforge/draftforge/internal/logging"
	"github.com/draftforge/draftforge/internal/pipeline"
	"github.com/draftforge/draftforge/internal/run"
	"github.com/draftforge/draftforge/internal/store"
)

// Gate ids, each tied 1:1 to the step execution resumes from. The pipeline
// raises a pause when it reaches a gate's step; after a decision is
// recorded, resume re-enqueues the run starting at that same step.
const (
	OutlineReview = "outline_review"
	DraftReview   = "draft_review"
	FinalReview   = "final_review"
)

// resumeSteps maps each gate id to its resume step.
var resumeSteps = map[string]string{
	OutlineReview: "outline_review",
	DraftReview:   "draft_review",
	FinalReview:   "final_review",
}

// maxHistory bounds the append-only decision history per run. Oldest
// entries are dropped once the cap is reached; LatestByGate is unaffected.
const maxHistory = 200

// Valid reports whether gateID is one of the enumerated gates.
func Valid(gateID string) bool {
	_, ok := resumeSteps[gateID]
	return ok
}

// ResumeStep returns the step a gate resumes from, or "" for unknown gates.
func ResumeStep(gateID string) string {
	return resumeSteps[gateID]
}

// IDs returns the enumerated gate ids.
func IDs() []string {
	return []string{OutlineReview, DraftReview, FinalReview}
}

// Enqueuer re-admits a run to the scheduler queue. Implemented by the
// scheduler; declared here to keep the packages decoupled.
type Enqueuer interface {
	Enqueue(runID, startFrom string) bool
}

// Controller owns the per-run decision stores on disk.
type Controller struct {
	mu    sync.Mutex
	store *store.Store
	sched Enqueuer
	log   *logging.Logger
}

// NewController creates a gate controller over the given run store. sched
// may be attached later via SetScheduler to break the construction cycle
// between controller and scheduler.
func NewController(st *store.Store, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Controller{store: st, log: log}
}

// SetScheduler attaches the scheduler used by Resume.
func (c *Controller) SetScheduler(sched Enqueuer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched = sched
}

// AppendDecision validates and records a reviewer's decision: the entry
// overwrites LatestByGate for its gate and is appended to the bounded
// history, then the whole decision store is persisted before the
// gate_decision event is published.
func (c *Controller) AppendDecision(runID string, d run.GateDecision) error {
	if !Valid(d.GateID) {
		return errors.ErrInvalidGate
	}
	if !d.Status.Valid() {
		return errors.ErrInvalidDecision
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}

	c.mu.Lock()
	dir, ok := c.store.RunDir(runID)
	if !ok {
		c.mu.Unlock()
		return errors.ErrRunNotFound
	}

	ds := c.loadLocked(dir)
	ds.LatestByGate[d.GateID] = d
	ds.History = append(ds.History, d)
	if len(ds.History) > maxHistory {
		ds.History = ds.History[len(ds.History)-maxHistory:]
	}
	if err := c.persistLocked(dir, ds); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.store.Publish(runID, event.TypeGateDecision, event.GatePayload{
		GateID:   d.GateID,
		Decision: string(d.Status),
		Message:  d.RequestedChanges,
		At:       d.DecidedAt,
	})
	c.log.WithRun(runID).Info("gate decision recorded", "gate", d.GateID, "decision", d.Status)
	return nil
}

// LatestDecision returns the most recent decision for a gate, or nil when
// none has been recorded (or the run is unknown).
func (c *Controller) LatestDecision(runID, gateID string) *run.GateDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, ok := c.store.RunDir(runID)
	if !ok {
		return nil
	}
	ds := c.loadLocked(dir)
	if d, ok := ds.LatestByGate[gateID]; ok {
		return &d
	}
	return nil
}

// Decisions returns the full decision store for a run, or an empty store
// for unknown runs.
func (c *Controller) Decisions(runID string) *run.DecisionStore {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, ok := c.store.RunDir(runID)
	if !ok {
		return run.NewDecisionStore()
	}
	return c.loadLocked(dir)
}

// RecordRequirement notes that a run paused on a gate, making sure the
// run's decision store exists on disk so reviewers have a stable file to
// watch. Implements the scheduler's GateRecorder.
func (c *Controller) RecordRequirement(runID string, p pipeline.Pause) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir, ok := c.store.RunDir(runID)
	if !ok {
		return errors.ErrRunNotFound
	}
	path := filepath.Join(dir, store.DecisionsFileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	c.log.WithRun(runID).Info("gate requirement recorded", "gate", p.GateID, "resume_from", p.ResumeFrom)
	return c.persistLocked(dir, run.NewDecisionStore())
}

// Resume re-admits a paused run to the scheduler, starting from the active
// gate's resume step. Returns false when the run is unknown, not paused,
// or no scheduler is attached.
func (c *Controller) Resume(runID string) bool {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return false
	}

	r := c.store.GetRun(runID)
	if r == nil || r.Status != run.StatusPaused || r.ActiveGate == nil {
		return false
	}
	return sched.Enqueue(runID, r.ActiveGate.ResumeFrom)
}

// loadLocked reads a run's decision store, returning an empty store when
// the file is missing or unparsable. Callers must hold c.mu.
func (c *Controller) loadLocked(dir string) *run.DecisionStore {
	data, err := os.ReadFile(filepath.Join(dir, store.DecisionsFileName))
	if err != nil {
		return run.NewDecisionStore()
	}
	var ds run.DecisionStore
	if err := json.Unmarshal(data, &ds); err != nil {
		return run.NewDecisionStore()
	}
	if ds.LatestByGate == nil {
		ds.LatestByGate = make(map[string]run.GateDecision)
	}
	if ds.History == nil {
		ds.History = []run.GateDecision{}
	}
	return &ds
}

// persistLocked atomically rewrites a run's decision store. Callers must
// hold c.mu.
func (c *Controller) persistLocked(dir string, ds *run.DecisionStore) error {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal decision store")
	}
	tmp := filepath.Join(dir, store.DecisionsFileName+".tmp")
	target := filepath.Join(dir, store.DecisionsFileName)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write decision store")
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return errors.Wrapf(err, "failed to rename decision store")
	}
	return nil
}
