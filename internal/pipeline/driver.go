package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/draftforge/draftforge/internal/agent"
	"github.com/draftforge/draftforge/internal/errors"
	"github.com/draftforge/draftforge/internal/logging"
	"github.com/draftforge/draftforge/internal/run"
	"github.com/draftforge/draftforge/internal/store"
)

// DecisionReader looks up the most recent reviewer decision for a gate.
// Implemented by the gate controller; declared here so the driver does not
// depend on it.
type DecisionReader interface {
	LatestDecision(runID, gateID string) *run.GateDecision
}

// Driver is the reference pipeline: it walks the fixed step order from
// startFrom, performing each step through one isolated agent call and
// recording progress and artifacts through the store. Reaching a gate step
// pauses the run unless execution was explicitly resumed at that step.
type Driver struct {
	store     *store.Store
	exec      agent.Executor
	decisions DecisionReader
	// gates maps a step name to the gate id raised when the walk reaches it.
	gates       map[string]string
	maxTurns    int
	callTimeout time.Duration
	log         *logging.Logger
}

// NewDriver creates a pipeline driver. decisions may be nil, in which case
// resumed gate steps execute without reviewer context.
func NewDriver(st *store.Store, exec agent.Executor, decisions DecisionReader, gates map[string]string, maxTurns int, callTimeout time.Duration, log *logging.Logger) *Driver {
	if log == nil {
		log = logging.NopLogger()
	}
	if gates == nil {
		gates = map[string]string{}
	}
	return &Driver{
		store:       st,
		exec:        exec,
		decisions:   decisions,
		gates:       gates,
		maxTurns:    maxTurns,
		callTimeout: callTimeout,
		log:         log,
	}
}

// Run implements Func.
func (d *Driver) Run(ctx context.Context, runID, startFrom string) (Outcome, error) {
	r := d.store.GetRun(runID)
	if r == nil {
		return Outcome{}, errors.ErrRunNotFound
	}

	start := 0
	if startFrom != "" {
		if start = run.StepIndex(startFrom); start < 0 {
			return Outcome{}, errors.ErrInvalidStep
		}
	}

	for _, step := range run.StepOrder[start:] {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		// Carried-over rerun steps are already done; never re-execute them.
		if rec, ok := r.Steps[step]; ok && rec.Status == run.StepDone {
			continue
		}

		changes := ""
		if gateID, gated := d.gates[step]; gated {
			if step != startFrom {
				return Paused(gateID, step,
					fmt.Sprintf("run %q is awaiting review at %s", runID, gateID)), nil
			}
			// Resumed at the gate: carry the reviewer's requested changes
			// into the step's prompt.
			if d.decisions != nil {
				if dec := d.decisions.LatestDecision(runID, gateID); dec != nil && dec.Status == run.DecisionRequestChanges {
					changes = dec.RequestedChanges
				}
			}
		}

		if err := d.store.StartStep(runID, step); err != nil {
			return Outcome{}, err
		}
		output, err := d.invoke(ctx, r, step, changes)
		if err != nil {
			_ = d.store.FinishStep(runID, step, errors.Stringify(err))
			return Outcome{}, err
		}
		if err := d.writeArtifact(runID, step, output); err != nil {
			_ = d.store.FinishStep(runID, step, errors.Stringify(err))
			return Outcome{}, err
		}
		if err := d.store.FinishStep(runID, step, ""); err != nil {
			return Outcome{}, err
		}
	}

	return Done(), nil
}

// invoke performs one step through the isolation layer. The agent key is the
// step name: each step maps to a dedicated agent configuration downstream.
func (d *Driver) invoke(ctx context.Context, r *run.Run, step, changes string) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Topic: %s\nStep: %s\n", r.Topic, step)
	if changes != "" {
		fmt.Fprintf(&prompt, "Requested changes: %s\n", changes)
	}

	resp, err := d.exec.Invoke(ctx, agent.Request{
		RunID:     r.ID,
		Step:      step,
		AgentKey:  step,
		Prompt:    prompt.String(),
		MaxTurns:  d.maxTurns,
		TimeoutMs: d.callTimeout.Milliseconds(),
	})
	if err != nil {
		return "", err
	}
	return resp.Output, nil
}

// writeArtifact stores a step's output under the run directory and records
// the filename on the step. Assembly output lands in final/, everything else
// in intermediate/.
func (d *Driver) writeArtifact(runID, step, output string) error {
	dir, ok := d.store.RunDir(runID)
	if !ok {
		return errors.ErrRunNotFound
	}

	sub := store.IntermediateDir
	if step == "final_assembly" || step == "publish_package" {
		sub = store.FinalDir
	}
	name := step + ".md"
	if err := os.WriteFile(filepath.Join(dir, sub, name), []byte(output), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s artifact", step)
	}
	return d.store.AddArtifact(runID, step, name)
}
