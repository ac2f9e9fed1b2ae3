package run

import "testing"

func TestStepIndex(t *testing.T) {
	if got := StepIndex("brief"); got != 0 {
		t.Errorf("StepIndex(brief) = %d, want 0", got)
	}
	if got := StepIndex("publish_package"); got != len(StepOrder)-1 {
		t.Errorf("StepIndex(publish_package) = %d, want %d", got, len(StepOrder)-1)
	}
	if got := StepIndex("nonexistent"); got != -1 {
		t.Errorf("StepIndex(nonexistent) = %d, want -1", got)
	}
}

func TestValidStep(t *testing.T) {
	for _, name := range StepOrder {
		if !ValidStep(name) {
			t.Errorf("ValidStep(%q) = false, want true", name)
		}
	}
	if ValidStep("") || ValidStep("Brief") {
		t.Error("ValidStep accepted an unknown step name")
	}
}

func TestNewInitializesAllSteps(t *testing.T) {
	r := New("abc123", "test topic", map[string]any{"tone": "formal"})

	if r.Status != StatusQueued {
		t.Errorf("new run status = %s, want queued", r.Status)
	}
	if len(r.Steps) != len(StepOrder) {
		t.Fatalf("new run has %d steps, want %d", len(r.Steps), len(StepOrder))
	}
	for _, name := range StepOrder {
		rec, ok := r.Steps[name]
		if !ok {
			t.Fatalf("step %q missing from new run", name)
		}
		if rec.Status != StepQueued {
			t.Errorf("step %q status = %s, want queued", name, rec.Status)
		}
		if rec.Artifacts == nil {
			t.Errorf("step %q artifacts should be an empty slice, not nil", name)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	r := New("abc123", "topic", nil)
	r.Steps["brief"].Artifacts = append(r.Steps["brief"].Artifacts, "brief.md")
	r.ActiveGate = &ActiveGate{GateID: "outline_review", ResumeFrom: "outline_review"}
	r.CanonicalSources = []string{"a", "b"}

	cp := r.Clone()
	cp.Steps["brief"].Status = StepDone
	cp.Steps["brief"].Artifacts[0] = "mutated.md"
	cp.ActiveGate.GateID = "mutated"
	cp.CanonicalSources[0] = "mutated"

	if r.Steps["brief"].Status == StepDone {
		t.Error("mutating clone step status leaked into original")
	}
	if r.Steps["brief"].Artifacts[0] != "brief.md" {
		t.Error("mutating clone artifacts leaked into original")
	}
	if r.ActiveGate.GateID != "outline_review" {
		t.Error("mutating clone gate leaked into original")
	}
	if r.CanonicalSources[0] != "a" {
		t.Error("mutating clone sources leaked into original")
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
	}{
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusPaused, false},
		{StatusDone, true},
		{StatusError, true},
	}
	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tc.status, got, tc.terminal)
		}
		if got := tc.status.IsActive(); got == tc.terminal {
			t.Errorf("%s.IsActive() = %v, want %v", tc.status, got, !tc.terminal)
		}
	}
}

func TestHasArtifact(t *testing.T) {
	rec := &StepRecord{Artifacts: []string{"outline.md"}}
	if !rec.HasArtifact("outline.md") {
		t.Error("HasArtifact missed an existing artifact")
	}
	if rec.HasArtifact("other.md") {
		t.Error("HasArtifact reported a missing artifact")
	}
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		if len(id) != 16 {
			t.Fatalf("NewID length = %d, want 16 hex chars", len(id))
		}
		if seen[id] {
			t.Fatalf("NewID produced duplicate %q", id)
		}
		seen[id] = true
	}
}
