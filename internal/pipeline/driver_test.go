package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/draftforge/draftforge/internal/agent"
	"github.com/draftforge/draftforge/internal/errors"
	"github.com/draftforge/draftforge/internal/event"
	"github.com/draftforge/draftforge/internal/run"
	"github.com/draftforge/draftforge/internal/store"
)

var testGates = map[string]string{
	"outline_review": "outline_review",
	"draft_review":   "draft_review",
	"final_review":   "final_review",
}

type fixedDecisions struct {
	decision *run.GateDecision
}

func (f fixedDecisions) LatestDecision(runID, gateID string) *run.GateDecision {
	return f.decision
}

func newDriverFixture(t *testing.T, stub *agent.Stub, decisions DecisionReader) (*store.Store, *Driver, string) {
	t.Helper()
	st, err := store.New(t.TempDir(), event.NewBus(), nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	r, err := st.CreateRun("the topic", nil, nil)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	d := NewDriver(st, stub, decisions, testGates, 8, 0, nil)
	return st, d, r.ID
}

func TestDriverPausesAtFirstGate(t *testing.T) {
	stub := agent.NewStub()
	st, d, runID := newDriverFixture(t, stub, nil)

	out, err := d.Run(context.Background(), runID, "")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Pause == nil || out.Pause.GateID != "outline_review" || out.Pause.ResumeFrom != "outline_review" {
		t.Fatalf("outcome = %+v, want pause at outline_review", out.Pause)
	}

	// Steps before the gate executed in order, one agent call each.
	if stub.CallCount() != 4 {
		t.Fatalf("agent calls = %d, want 4 (brief..outline)", stub.CallCount())
	}
	for i, want := range []string{"brief", "research", "source_vetting", "outline"} {
		if got := stub.Calls[i].Step; got != want {
			t.Errorf("call %d step = %s, want %s", i, got, want)
		}
	}

	r := st.GetRun(runID)
	if r.Steps["outline"].Status != run.StepDone {
		t.Errorf("outline status = %s, want done", r.Steps["outline"].Status)
	}
	if r.Steps["outline_review"].Status != run.StepQueued {
		t.Errorf("gate step status = %s, want still queued", r.Steps["outline_review"].Status)
	}
}

func TestDriverResumeExecutesGateStepWithChanges(t *testing.T) {
	stub := agent.NewStub()
	decisions := fixedDecisions{decision: &run.GateDecision{
		GateID:           "outline_review",
		Status:           run.DecisionRequestChanges,
		RequestedChanges: "drop section three",
	}}
	_, d, runID := newDriverFixture(t, stub, decisions)

	out, err := d.Run(context.Background(), runID, "outline_review")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// Walk continues past the resumed gate and pauses at the next one.
	if out.Pause == nil || out.Pause.GateID != "draft_review" {
		t.Fatalf("outcome = %+v, want pause at draft_review", out.Pause)
	}

	first := stub.Calls[0]
	if first.Step != "outline_review" {
		t.Fatalf("first call step = %s, want outline_review", first.Step)
	}
	if !strings.Contains(first.Prompt, "drop section three") {
		t.Errorf("resumed gate prompt missing requested changes: %q", first.Prompt)
	}
}

func TestDriverWritesArtifacts(t *testing.T) {
	stub := agent.NewStub().Respond("brief", "the brief")
	st, d, runID := newDriverFixture(t, stub, nil)

	if _, err := d.Run(context.Background(), runID, ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	dir, _ := st.RunDir(runID)
	data, err := os.ReadFile(filepath.Join(dir, store.IntermediateDir, "brief.md"))
	if err != nil {
		t.Fatalf("brief artifact missing: %v", err)
	}
	if string(data) != "the brief" {
		t.Errorf("artifact content = %q", data)
	}
	if !st.GetRun(runID).Steps["brief"].HasArtifact("brief.md") {
		t.Error("artifact not recorded on the step")
	}
}

func TestDriverCompletesAndRoutesFinalArtifacts(t *testing.T) {
	stub := agent.NewStub().Respond("final_assembly", "assembled")
	decisions := fixedDecisions{decision: &run.GateDecision{Status: run.DecisionApprove}}
	st, d, runID := newDriverFixture(t, stub, decisions)

	// Resume at the last gate so the walk runs through to the end.
	for _, name := range run.StepOrder[:run.StepIndex("final_review")] {
		st.StartStep(runID, name)
		st.FinishStep(runID, name, "")
	}
	out, err := d.Run(context.Background(), runID, "final_review")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Pause != nil {
		t.Fatalf("outcome = pause at %s, want done", out.Pause.GateID)
	}

	dir, _ := st.RunDir(runID)
	if _, err := os.Stat(filepath.Join(dir, store.FinalDir, "final_assembly.md")); err != nil {
		t.Errorf("final artifact not routed to final/: %v", err)
	}
	r := st.GetRun(runID)
	if r.Steps["publish_package"].Status != run.StepDone {
		t.Errorf("last step status = %s, want done", r.Steps["publish_package"].Status)
	}
}

func TestDriverSkipsCarriedOverSteps(t *testing.T) {
	stub := agent.NewStub()
	st, d, runID := newDriverFixture(t, stub, nil)

	st.StartStep(runID, "brief")
	st.FinishStep(runID, "brief", "")

	if _, err := d.Run(context.Background(), runID, ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stub.CallCount() == 0 || stub.Calls[0].Step != "research" {
		t.Errorf("first executed step = %v, want research (brief already done)", stub.Calls)
	}
}

func TestDriverRecordsStepFailure(t *testing.T) {
	stub := agent.NewStub().Fail("research", errors.New("no sources found"))
	st, d, runID := newDriverFixture(t, stub, nil)

	_, err := d.Run(context.Background(), runID, "")
	if err == nil {
		t.Fatal("Run should fail when a step's agent call fails")
	}

	rec := st.GetRun(runID).Steps["research"]
	if rec.Status != run.StepError || !strings.Contains(rec.Error, "no sources") {
		t.Errorf("research record = %+v", rec)
	}
	// The walk stops at the failure.
	if stub.CallCount() != 2 {
		t.Errorf("agent calls = %d, want 2 (brief, research)", stub.CallCount())
	}
}

func TestDriverValidation(t *testing.T) {
	stub := agent.NewStub()
	_, d, runID := newDriverFixture(t, stub, nil)

	if _, err := d.Run(context.Background(), "ghost", ""); !errors.Is(err, errors.ErrRunNotFound) {
		t.Errorf("unknown run: err = %v, want ErrRunNotFound", err)
	}
	if _, err := d.Run(context.Background(), runID, "bogus_step"); !errors.Is(err, errors.ErrInvalidStep) {
		t.Errorf("bad startFrom: err = %v, want ErrInvalidStep", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Run(ctx, runID, ""); !errors.IsCancelled(err) {
		t.Errorf("cancelled ctx: err = %v, want cancellation", err)
	}
	if stub.CallCount() != 0 {
		t.Errorf("agent invoked %d times during validation failures, want 0", stub.CallCount())
	}
}
