package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/draftforge/draftforge/internal/errors"
)

func TestHardDeadline(t *testing.T) {
	cases := []struct {
		soft time.Duration
		want time.Duration
	}{
		{0, 10 * time.Second},
		{2 * time.Second, 10 * time.Second},
		{9 * time.Second, 10 * time.Second},
		{30 * time.Second, 31 * time.Second},
		{2 * time.Minute, 2*time.Minute + time.Second},
	}
	for _, tc := range cases {
		if got := hardDeadline(tc.soft); got != tc.want {
			t.Errorf("hardDeadline(%s) = %s, want %s", tc.soft, got, tc.want)
		}
	}
}

func TestStubScriptedResponses(t *testing.T) {
	stub := NewStub().
		Respond("outline", "I. Intro\nII. Body").
		Fail("fact_check", errors.New("sources disagree"))

	resp, err := stub.Invoke(context.Background(), Request{Step: "outline"})
	if err != nil {
		t.Fatalf("Invoke(outline) failed: %v", err)
	}
	if !resp.OK || resp.Output != "I. Intro\nII. Body" {
		t.Errorf("outline response = %+v", resp)
	}

	if _, err := stub.Invoke(context.Background(), Request{Step: "fact_check"}); err == nil {
		t.Error("scripted failure did not surface")
	}

	if stub.CallCount() != 2 {
		t.Errorf("call count = %d, want 2", stub.CallCount())
	}
}

func TestStubLatencyHonorsCancellation(t *testing.T) {
	stub := NewStub()
	stub.Latency = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := stub.Invoke(ctx, Request{Step: "brief"})
	if err == nil {
		t.Fatal("cancelled invoke should fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled invoke took %s, should return promptly", elapsed)
	}
}

func TestServeChildRoundTrip(t *testing.T) {
	req := Request{
		Tag:       "tag-123",
		RunID:     "r1",
		Step:      "section_draft",
		AgentKey:  "section_draft",
		Prompt:    "write the section",
		TimeoutMs: 5000,
	}
	reqJSON, _ := json.Marshal(req)

	var out bytes.Buffer
	err := ServeChild(bytes.NewReader(reqJSON), &out, func(ctx context.Context, got Request) (string, error) {
		if got.Prompt != req.Prompt {
			t.Errorf("child saw prompt %q", got.Prompt)
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Error("child context missing the soft deadline")
		}
		return "drafted text", nil
	})
	if err != nil {
		t.Fatalf("ServeChild failed: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("response unparsable: %v", err)
	}
	if resp.Tag != "tag-123" || !resp.OK || resp.Output != "drafted text" {
		t.Errorf("response = %+v", resp)
	}
}

func TestServeChildReportsErrorsInResponse(t *testing.T) {
	req, _ := json.Marshal(Request{Tag: "t", Step: "citations"})

	var out bytes.Buffer
	err := ServeChild(bytes.NewReader(req), &out, func(ctx context.Context, got Request) (string, error) {
		return "", fmt.Errorf("citation database unreachable")
	})
	if err != nil {
		t.Fatalf("ServeChild should not fail for an agent error: %v", err)
	}

	var resp Response
	json.Unmarshal(out.Bytes(), &resp)
	if resp.OK || !strings.Contains(resp.Error, "unreachable") {
		t.Errorf("response = %+v, want failure with message", resp)
	}
}

func TestServeChildRejectsGarbageInput(t *testing.T) {
	var out bytes.Buffer
	err := ServeChild(strings.NewReader("{nope"), &out, func(context.Context, Request) (string, error) {
		t.Error("invoke should not run for an undecodable request")
		return "", nil
	})
	if err == nil {
		t.Fatal("ServeChild accepted garbage input")
	}
}
