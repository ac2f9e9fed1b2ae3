// Package store implements the authoritative run registry: an in-memory
// record of every run mirrored, mutation by mutation, to one JSON file per
// run on disk. Every mutator persists the full run record before returning,
// so a crash between a mutation and an API response never loses state that
// was already acknowledged. Mutations are published to the event bus only
// after the backing record is durable.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/draftforge/draftforge/internal/errors"
	"github.com/draftforge/draftforge/internal/event"
	"github.com/draftforge/draftforge/internal/logging"
	"github.com/draftforge/draftforge/internal/run"
)

// Store is the single run registry for the process. It is constructed once
// at startup, hydrated via InitFromDisk, and passed by reference into the
// scheduler and any API layer. All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	root string
	runs map[string]*run.Run
	bus  *event.Bus
	log  *logging.Logger
}

// New creates a Store rooted at the given output directory, creating the
// directory if needed.
func New(root string, bus *event.Bus, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output root")
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Store{
		root: root,
		runs: make(map[string]*run.Run),
		bus:  bus,
		log:  log,
	}, nil
}

// Root returns the output root directory.
func (s *Store) Root() string {
	return s.root
}

// RunDir returns the on-disk directory for a run and whether the run exists.
func (s *Store) RunDir(runID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return "", false
	}
	return RunDir(s.root, runID), true
}

// CreateRun creates a new queued run, persists it, and registers it with
// the event bus. When derivedFrom is non-nil the run is a partial rerun:
// every parent step strictly before derivedFrom.StartFrom must be done, and
// those steps' records (including artifacts) are carried over.
func (s *Store) CreateRun(topic string, settings map[string]any, derivedFrom *run.DerivedFrom) (*run.Run, error) {
	id, err := run.NewID()
	if err != nil {
		return nil, err
	}

	r := run.New(id, topic, settings)

	s.mu.Lock()
	if derivedFrom != nil {
		parent, ok := s.runs[derivedFrom.RunID]
		if !ok {
			s.mu.Unlock()
			return nil, errors.ErrRunNotFound
		}
		cut := run.StepIndex(derivedFrom.StartFrom)
		if cut < 0 {
			s.mu.Unlock()
			return nil, errors.ErrInvalidStep
		}
		for _, name := range run.StepOrder[:cut] {
			if parent.Steps[name].Status != run.StepDone {
				s.mu.Unlock()
				return nil, errors.ErrRerunNotReady
			}
		}
		for _, name := range run.StepOrder[:cut] {
			rec := *parent.Steps[name]
			rec.Artifacts = append([]string(nil), parent.Steps[name].Artifacts...)
			r.Steps[name] = &rec
		}
		df := *derivedFrom
		if df.CreatedAt.IsZero() {
			df.CreatedAt = time.Now()
		}
		r.DerivedFrom = &df
	}

	if err := ensureRunDirs(s.root, id); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.persistLocked(r); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.runs[id] = r
	snapshot := r.Clone()
	s.mu.Unlock()

	s.bus.Register(id)
	s.log.WithRun(id).Info("run created", "topic", topic, "derived", derivedFrom != nil)
	return snapshot, nil
}

// GetRun returns a copy of the run, or nil if it does not exist.
func (s *Store) GetRun(runID string) *run.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil
	}
	return r.Clone()
}

// ListRuns returns copies of every run, newest-first by start time.
func (s *Store) ListRuns() []*run.Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*run.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// StartStep marks a step running and publishes step_started. A no-op for
// unknown runs or step names outside the fixed order.
func (s *Store) StartStep(runID, step string) error {
	if !run.ValidStep(step) {
		return nil
	}

	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	now := time.Now()
	rec := r.Steps[step]
	rec.Status = run.StepRunning
	rec.StartedAt = &now
	rec.Error = ""
	if err := s.persistLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.bus.Publish(runID, event.TypeStepStarted, event.StepPayload{
		Step:   step,
		Status: string(run.StepRunning),
	})
	return nil
}

// FinishStep marks a step done, or error when errMsg is non-empty, and
// publishes step_finished. A no-op for unknown runs or invalid steps.
func (s *Store) FinishStep(runID, step, errMsg string) error {
	if !run.ValidStep(step) {
		return nil
	}

	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	now := time.Now()
	rec := r.Steps[step]
	rec.FinishedAt = &now
	if errMsg != "" {
		rec.Status = run.StepError
		rec.Error = errMsg
	} else {
		rec.Status = run.StepDone
		rec.Error = ""
	}
	status := rec.Status
	if err := s.persistLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.bus.Publish(runID, event.TypeStepFinished, event.StepPayload{
		Step:   step,
		Status: string(status),
		Error:  errMsg,
	})
	return nil
}

// SetStepNoEvent sets a step's status and persists without publishing.
// Used when replaying carried-over rerun state where notifying subscribers
// would duplicate history.
func (s *Store) SetStepNoEvent(runID, step string, status run.StepStatus) error {
	if !run.ValidStep(step) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok {
		return nil
	}
	r.Steps[step].Status = status
	return s.persistLocked(r)
}

// AddArtifact records an artifact filename on a step. Artifacts form a set
// by name: re-adding an existing name is a no-op and publishes nothing.
func (s *Store) AddArtifact(runID, step, name string) error {
	if !run.ValidStep(step) || name == "" {
		return nil
	}

	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	rec := r.Steps[step]
	if rec.HasArtifact(name) {
		s.mu.Unlock()
		return nil
	}
	rec.Artifacts = append(rec.Artifacts, name)
	if err := s.persistLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.bus.Publish(runID, event.TypeArtifactWritten, event.ArtifactPayload{
		Step: step,
		Name: name,
	})
	return nil
}

// StatusPatch is a partial update applied by SetRunStatus. Nil fields are
// left unchanged.
type StatusPatch struct {
	Status     *run.Status
	FinishedAt *time.Time
	ActiveGate *run.ActiveGate
	// ErrorMessage, when non-empty, is published as an error event after
	// the patch is durable. Empty messages publish nothing.
	ErrorMessage string
}

// SetRunStatus applies a partial patch to a run, persists it, and publishes
// a status event (plus an error event for non-empty ErrorMessage). The
// paused invariant is enforced here: any status other than paused clears
// the active gate, and a paused patch without a gate (on the patch or the
// run) is ignored.
func (s *Store) SetRunStatus(runID string, patch StatusPatch) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	if patch.ActiveGate != nil {
		ag := *patch.ActiveGate
		r.ActiveGate = &ag
	}
	if patch.Status != nil {
		if *patch.Status == run.StatusPaused && r.ActiveGate == nil {
			s.mu.Unlock()
			return nil
		}
		r.Status = *patch.Status
		if r.Status != run.StatusPaused {
			r.ActiveGate = nil
		}
	}
	if patch.FinishedAt != nil {
		t := *patch.FinishedAt
		r.FinishedAt = &t
	}

	status := r.Status
	if err := s.persistLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.bus.Publish(runID, event.TypeStatus, event.StatusPayload{Status: string(status)})
	if patch.ErrorMessage != "" {
		s.bus.Publish(runID, event.TypeError, event.ErrorPayload{Message: patch.ErrorMessage})
	}
	return nil
}

// GateRequired pauses a run on a human-review gate: sets the active gate,
// transitions the run to paused, persists, and publishes gate_required.
// A no-op for unknown runs.
func (s *Store) GateRequired(runID, gateID, resumeFrom, message string) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	now := time.Now()
	r.ActiveGate = &run.ActiveGate{
		GateID:     gateID,
		ResumeFrom: resumeFrom,
		Message:    message,
		At:         now,
		Awaiting:   true,
	}
	r.Status = run.StatusPaused
	if err := s.persistLocked(r); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.bus.Publish(runID, event.TypeGateRequired, event.GatePayload{
		GateID:     gateID,
		ResumeFrom: resumeFrom,
		Message:    message,
		At:         now,
	})
	return nil
}

// Subscribe attaches a handler to a run's live event stream. Returns an
// unsubscribe function, or nil if the run does not exist.
func (s *Store) Subscribe(runID string, h event.Handler) func() {
	s.mu.Lock()
	_, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.bus.Subscribe(runID, h)
}

// Publish forwards an event for a run to the bus. Exposed so pipeline code
// can emit log events through the store without holding a bus reference.
func (s *Store) Publish(runID string, eventType event.Type, payload any) {
	s.bus.Publish(runID, eventType, payload)
}

// WriteCancelMarker writes a best-effort marker file recording a
// cooperative abort. Write failures are swallowed: the marker is UX,
// never correctness-critical.
func (s *Store) WriteCancelMarker(runID string) {
	s.mu.Lock()
	_, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return
	}

	path := filepath.Join(RunDir(s.root, runID), CancelMarkerName)
	payload := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(path, payload, 0644); err != nil {
		s.log.WithRun(runID).Warn("failed to write cancel marker", "error", err)
	}
}

// Remove deregisters a run from the in-memory registry and the event bus.
// It does not touch the run's directory; the retention engine owns disk
// deletion. Returns false for unknown runs.
func (s *Store) Remove(runID string) bool {
	s.mu.Lock()
	_, ok := s.runs[runID]
	if ok {
		delete(s.runs, runID)
	}
	s.mu.Unlock()

	if ok {
		s.bus.Deregister(runID)
	}
	return ok
}

// InitFromDisk scans the output root and hydrates the registry from every
// parsable run record. Entries that are not directories, or whose record
// file is missing or unparsable, are silently skipped; recovery never
// fails because of a corrupt entry. Returns the number of runs recovered.
func (s *Store) InitFromDisk() int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.Warn("failed to scan output root", "root", s.root, "error", err)
		return 0
	}

	recovered := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(recordPath(s.root, entry.Name()))
		if err != nil {
			continue
		}
		var r run.Run
		if err := json.Unmarshal(data, &r); err != nil || r.ID == "" {
			s.log.Warn("skipping unparsable run record", "dir", entry.Name())
			continue
		}
		if r.Steps == nil {
			r.Steps = map[string]*run.StepRecord{}
		}
		for _, name := range run.StepOrder {
			if r.Steps[name] == nil {
				r.Steps[name] = &run.StepRecord{Status: run.StepQueued, Artifacts: []string{}}
			}
		}

		s.mu.Lock()
		s.runs[r.ID] = &r
		s.mu.Unlock()
		s.bus.Register(r.ID)
		recovered++
	}

	s.log.Info("registry hydrated from disk", "runs", recovered)
	return recovered
}

// persistLocked rewrites the run's full record file. Callers must hold s.mu.
func (s *Store) persistLocked(r *run.Run) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal run record")
	}
	if err := os.MkdirAll(RunDir(s.root, r.ID), 0755); err != nil {
		return errors.Wrapf(err, "failed to create run directory")
	}
	return atomicWriteFile(recordPath(s.root, r.ID), data, 0644)
}
