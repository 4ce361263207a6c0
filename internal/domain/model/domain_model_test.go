package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"task-orchestrator/internal/domain"
)

func TestValidateRunTransition(t *testing.T) {
	ok := [][2]RunState{
		{RunStatePlanned, RunStateRunning},
		{RunStateRunning, RunStatePaused},
		{RunStatePaused, RunStateRunning},
		{RunStatePaused, RunStateFailed},
		{RunStateRunning, RunStateDegraded},
		{RunStateFailed, RunStateRetrying},
		{RunStateRetrying, RunStateRunning},
	}
	for _, c := range ok {
		if err := ValidateRunTransition(c[0], c[1]); err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", c[0], c[1], err)
		}
	}

	bad := [][2]RunState{
		{RunStateSucceeded, RunStateRunning},
		{RunStateNoMatch, RunStateRetrying},
		{RunStatePlanned, RunStatePaused},
		{RunStateRetrying, RunStatePaused},
		{RunState("bogus"), RunStateRunning},
		{RunStateRunning, RunState("bogus")},
	}
	for _, c := range bad {
		if err := ValidateRunTransition(c[0], c[1]); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s -> %s: expected ErrInvalidTransition, got %v", c[0], c[1], err)
		}
	}
}

func TestRunState_Classes(t *testing.T) {
	for _, s := range []RunState{RunStateSucceeded, RunStateFailed, RunStateDegraded, RunStateNoMatch} {
		if !s.IsSettled() || s.IsStallable() {
			t.Fatalf("%s should be settled and not stallable", s)
		}
	}
	if RunStatePaused.IsSettled() || RunStatePaused.IsStallable() {
		t.Fatal("paused is neither settled nor stallable")
	}
	for _, s := range []RunState{RunStatePlanned, RunStateRunning, RunStateRetrying} {
		if !s.IsStallable() {
			t.Fatalf("%s should be stallable", s)
		}
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		state     RunState
		hasIntent bool
		diag      Diagnostics
		want      RunStatus
	}{
		{RunStateSucceeded, false, Diagnostics{}, RunStatusNoMatch},
		{RunStateNoMatch, true, Diagnostics{}, RunStatusNoMatch},
		{RunStateFailed, true, Diagnostics{Failures: []string{"x"}}, RunStatusFailed},
		{RunStateSucceeded, true, Diagnostics{Failures: []string{"x"}, Degraded: true}, RunStatusPartial},
		{RunStateDegraded, true, Diagnostics{}, RunStatusDegraded},
		{RunStateRunning, true, Diagnostics{Degraded: true}, RunStatusDegraded},
		{RunStateSucceeded, true, Diagnostics{}, RunStatusOK},
	}
	for _, c := range cases {
		if got := DeriveStatus(c.state, c.hasIntent, c.diag); got != c.want {
			t.Fatalf("DeriveStatus(%s,%v,%+v) = %s, want %s", c.state, c.hasIntent, c.diag, got, c.want)
		}
	}
}

func TestTaskRun_MarshalIncludesStatus(t *testing.T) {
	run := TaskRun{ID: "r1", RunState: RunStateNoMatch}
	b, err := json.Marshal(run)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["status"] != string(RunStatusNoMatch) {
		t.Fatalf("status missing: %s", b)
	}
	if plan, ok := m["plan"].([]any); !ok || len(plan) != 0 {
		t.Fatalf("plan should be an empty array: %s", b)
	}

	// pointer receivers marshal the same way
	b2, _ := json.Marshal(&run)
	if string(b) != string(b2) {
		t.Fatalf("value and pointer encodings differ:\n%s\n%s", b, b2)
	}
}

func TestTaskRun_CloneIsDeep(t *testing.T) {
	orig := &TaskRun{
		ID:      "r1",
		Intent:  &Intent{Label: "plan.company", Confidence: 0.7},
		Context: map[string]string{"style": "logo"},
		Plan: []PlanStep{{
			Index:  0,
			Input:  map[string]any{"prompt": "a"},
			Output: json.RawMessage(`{"a":1}`),
		}},
		Diagnostics: Diagnostics{Notes: []string{"n"}},
	}
	cp := orig.Clone()
	cp.Intent.Label = "changed"
	cp.Context["style"] = "icon"
	cp.Plan[0].Input["prompt"] = "b"
	cp.Plan[0].Output[2] = 'z'
	cp.Diagnostics.Notes[0] = "m"

	if orig.Intent.Label != "plan.company" || orig.Context["style"] != "logo" ||
		orig.Plan[0].Input["prompt"] != "a" || string(orig.Plan[0].Output) != `{"a":1}` ||
		orig.Diagnostics.Notes[0] != "n" {
		t.Fatalf("clone shares state with original: %+v", orig)
	}
	if (*TaskRun)(nil).Clone() != nil {
		t.Fatal("nil clone should be nil")
	}
}

func TestTaskRun_TouchAndRetryable(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	run := &TaskRun{UpdatedAt: now}
	run.Touch(now.Add(-time.Minute))
	if !run.UpdatedAt.Equal(now) {
		t.Fatal("Touch moved time backwards")
	}
	run.Touch(now.Add(time.Minute))
	if !run.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatal("Touch did not advance")
	}

	run.Plan = []PlanStep{{Status: StepStatusSucceeded}}
	if run.HasRetryableSteps() {
		t.Fatal("clean plan reported retryable")
	}
	run.Plan = append(run.Plan, PlanStep{Status: StepStatusSkipped})
	if !run.HasRetryableSteps() {
		t.Fatal("skipped step should be retryable")
	}
}

func TestNewJob(t *testing.T) {
	now := time.Now()
	job, err := NewJob("j1", "video", json.RawMessage(`{"prompt":"x"}`), 3, now)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if job.Status != JobStatusQueued || job.Attempts != (Attempts{Current: 0, Max: 3}) || job.IsTerminal() {
		t.Fatalf("unexpected new job %+v", job)
	}
	if !job.Attempts.Remaining() {
		t.Fatal("fresh job should have attempts remaining")
	}

	for _, c := range []struct {
		id, typ string
		payload json.RawMessage
		max     int
	}{
		{"", "video", nil, 1},
		{"j", "", nil, 1},
		{"j", "video", nil, 0},
		{"j", "video", json.RawMessage(`{not json`), 1},
	} {
		if _, err := NewJob(c.id, c.typ, c.payload, c.max, now); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("NewJob(%q,%q,%s,%d): expected ErrInvalidArgument, got %v", c.id, c.typ, c.payload, c.max, err)
		}
	}

	cp := job.Clone()
	cp.Payload[2] = 'X'
	if string(job.Payload) != `{"prompt":"x"}` {
		t.Fatal("job clone shares payload")
	}
}

func TestCapability_Valid(t *testing.T) {
	for _, c := range []Capability{CapabilityPlan, CapabilitySearch, CapabilityImage, CapabilityVideo, CapabilityCommand} {
		if !c.Valid() {
			t.Fatalf("%s should be valid", c)
		}
	}
	if Capability("teleport").Valid() {
		t.Fatal("unknown capability reported valid")
	}
}
