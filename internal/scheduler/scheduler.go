// Package scheduler admits runs to execution in FIFO order under a global
// concurrency bound. Each admitted run executes the pipeline contract on
// its own goroutine with a fresh cancellation handle; settlement (done,
// paused, failed, cancelled) releases the slot and re-drains the queue.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/draftforge/draftforge/internal/errors"
	"github.com/draftforge/draftforge/internal/logging"
	"github.com/draftforge/draftforge/internal/pipeline"
	"github.com/draftforge/draftforge/internal/run"
	"github.com/draftforge/draftforge/internal/store"
)

// GateRecorder receives gate requirements when a pipeline pauses. Implemented
// by the gate controller; declared here so the two packages stay decoupled.
type GateRecorder interface {
	RecordRequirement(runID string, p pipeline.Pause) error
}

// item is one queue entry: a run and the step it should (re)start from.
type item struct {
	runID     string
	startFrom string
}

// handle is the cancellation handle for one executing run. fired
// distinguishes cooperative cancellation from ordinary pipeline failures
// when the settlement is classified.
type handle struct {
	cancel context.CancelFunc
	fired  atomic.Bool
}

// Scheduler owns the FIFO admission queue and the set of running slots.
// All methods are safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	queue   []item
	running map[string]*handle

	limit  int
	store  *store.Store
	pipe   pipeline.Func
	gates  GateRecorder
	log    *logging.Logger
	active sync.WaitGroup
}

// New creates a Scheduler bounded to limit concurrent runs (minimum 1).
// gates may be nil when no gate controller is attached.
func New(st *store.Store, pipe pipeline.Func, limit int, gates GateRecorder, log *logging.Logger) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Scheduler{
		queue:   []item{},
		running: make(map[string]*handle),
		limit:   limit,
		store:   st,
		pipe:    pipe,
		gates:   gates,
		log:     log,
	}
}

// Enqueue admits a run to the FIFO queue. startFrom selects the step the
// pipeline should resume from; empty means the beginning. Returns false if
// the run is unknown or currently holds a running slot. Returns true
// without duplicating the entry if the run is already queued. Otherwise the
// run is appended, marked queued, and the queue drained.
func (s *Scheduler) Enqueue(runID, startFrom string) bool {
	if s.store.GetRun(runID) == nil {
		return false
	}

	s.mu.Lock()
	if admitted, dup := s.checkAdmission(runID); !admitted || dup {
		s.mu.Unlock()
		return admitted
	}
	s.mu.Unlock()

	// Persist the queued status before the entry becomes visible to drain,
	// so a settlement draining the queue can never have its running write
	// overwritten by this one.
	queued := run.StatusQueued
	if err := s.store.SetRunStatus(runID, store.StatusPatch{Status: &queued}); err != nil {
		s.log.WithRun(runID).Error("failed to persist queued status", "error", err)
	}

	s.mu.Lock()
	if admitted, dup := s.checkAdmission(runID); !admitted || dup {
		s.mu.Unlock()
		return admitted
	}
	s.queue = append(s.queue, item{runID: runID, startFrom: startFrom})
	s.mu.Unlock()

	s.drain()
	return true
}

// checkAdmission reports whether the run may be admitted and whether it is
// already queued. Callers must hold s.mu.
func (s *Scheduler) checkAdmission(runID string) (admitted, dup bool) {
	if _, ok := s.running[runID]; ok {
		return false, false
	}
	for _, it := range s.queue {
		if it.runID == runID {
			return true, true
		}
	}
	return true, false
}

// Cancel aborts a run. Running runs are cancelled cooperatively through
// their handle; the pipeline settles the run when it observes the signal.
// Queued runs are removed and marked error directly, without the pipeline
// ever being invoked. Returns false if the run is neither running nor
// queued.
func (s *Scheduler) Cancel(runID string) bool {
	s.mu.Lock()
	if h, ok := s.running[runID]; ok {
		s.mu.Unlock()
		h.fired.Store(true)
		h.cancel()
		return true
	}
	for i, it := range s.queue {
		if it.runID == runID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.mu.Unlock()
			s.settleError(runID, errors.ErrCancelled.Error(), false)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// IsRunning reports whether the run currently holds a running slot.
func (s *Scheduler) IsRunning(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[runID]
	return ok
}

// QueueDepth returns the number of runs waiting for a slot.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunningCount returns the number of runs currently holding slots.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Wait blocks until every currently-executing run has settled. Intended
// for shutdown and tests; new enqueues during the wait are still admitted.
func (s *Scheduler) Wait() {
	s.active.Wait()
}

// drain starts queued runs while free slots remain.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || len(s.running) >= s.limit {
			s.mu.Unlock()
			return
		}
		it := s.queue[0]
		s.queue = s.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		h := &handle{cancel: cancel}
		s.running[it.runID] = h
		s.mu.Unlock()

		running := run.StatusRunning
		if err := s.store.SetRunStatus(it.runID, store.StatusPatch{Status: &running}); err != nil {
			s.log.WithRun(it.runID).Error("failed to persist running status", "error", err)
		}

		s.active.Add(1)
		go s.execute(ctx, it, h)
	}
}

// execute invokes the pipeline for one admitted run and settles the result.
// The slot is released and the queue re-drained in every settlement case.
func (s *Scheduler) execute(ctx context.Context, it item, h *handle) {
	defer s.active.Done()

	out, err := s.pipe(ctx, it.runID, it.startFrom)

	s.mu.Lock()
	delete(s.running, it.runID)
	s.mu.Unlock()

	switch {
	case err == nil && out.Pause != nil:
		s.settlePause(it.runID, *out.Pause)
	case err == nil:
		s.settleDone(it.runID)
	default:
		cancelled := h.fired.Load() || errors.IsCancelled(err)
		msg := errors.Stringify(err)
		if cancelled {
			msg = errors.ErrCancelled.Error()
		}
		s.settleError(it.runID, msg, cancelled)
	}

	s.drain()
}

// settleDone marks a run done with its finish time.
func (s *Scheduler) settleDone(runID string) {
	done := run.StatusDone
	now := time.Now()
	if err := s.store.SetRunStatus(runID, store.StatusPatch{Status: &done, FinishedAt: &now}); err != nil {
		s.log.WithRun(runID).Error("failed to persist done status", "error", err)
	}
	s.log.WithRun(runID).Info("run completed")
}

// settlePause suspends a run on a human-review gate. A pause is a
// successful settlement: the slot is freed, no error event is emitted, and
// the run waits for a resume enqueue.
func (s *Scheduler) settlePause(runID string, p pipeline.Pause) {
	if err := s.store.GateRequired(runID, p.GateID, p.ResumeFrom, p.Message); err != nil {
		s.log.WithRun(runID).Error("failed to persist gate pause", "error", err)
	}
	if s.gates != nil {
		if err := s.gates.RecordRequirement(runID, p); err != nil {
			s.log.WithRun(runID).Warn("failed to record gate requirement", "gate", p.GateID, "error", err)
		}
	}
	s.log.WithRun(runID).Info("run paused for review", "gate", p.GateID, "resume_from", p.ResumeFrom)
}

// settleError marks a run failed. Cooperative aborts additionally write the
// best-effort cancellation marker.
func (s *Scheduler) settleError(runID, msg string, cancelled bool) {
	failed := run.StatusError
	now := time.Now()
	if err := s.store.SetRunStatus(runID, store.StatusPatch{
		Status:       &failed,
		FinishedAt:   &now,
		ErrorMessage: msg,
	}); err != nil {
		s.log.WithRun(runID).Error("failed to persist error status", "error", err)
	}
	if cancelled {
		s.store.WriteCancelMarker(runID)
	}
	s.log.WithRun(runID).Warn("run failed", "cancelled", cancelled, "error", msg)
}
