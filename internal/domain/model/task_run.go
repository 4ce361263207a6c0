package model

import (
	"encoding/json"
	"time"
)

type RunState string

const (
	RunStatePlanned   RunState = "planned"
	RunStateRunning   RunState = "running"
	RunStatePaused    RunState = "paused"
	RunStateRetrying  RunState = "retrying"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
	RunStateDegraded  RunState = "degraded"
	RunStateNoMatch   RunState = "no-match"
)

// RunStatus is the externally reported summary of a run. It is never stored;
// see DeriveStatus.
type RunStatus string

const (
	RunStatusOK       RunStatus = "ok"
	RunStatusPartial  RunStatus = "partial"
	RunStatusDegraded RunStatus = "degraded"
	RunStatusNoMatch  RunStatus = "no-match"
	RunStatusFailed   RunStatus = "failed"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

type Capability string

const (
	CapabilityPlan    Capability = "plan"
	CapabilitySearch  Capability = "search"
	CapabilityImage   Capability = "image"
	CapabilityVideo   Capability = "video"
	CapabilityCommand Capability = "command"
)

// Capabilities is the fixed catalog plan steps draw from.
var Capabilities = []Capability{
	CapabilityPlan, CapabilitySearch, CapabilityImage, CapabilityVideo, CapabilityCommand,
}

func (c Capability) Valid() bool {
	for _, k := range Capabilities {
		if k == c {
			return true
		}
	}
	return false
}

type Intent struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PlanStep is one capability invocation. Shape (index, capability, input,
// required) is fixed once planned; only the outcome fields change.
type PlanStep struct {
	Index      int             `json:"index"`
	Capability Capability      `json:"capability"`
	Input      map[string]any  `json:"input"`
	Required   bool            `json:"required"`
	Status     StepStatus      `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Fallback   bool            `json:"fallback,omitempty"`
	JobID      string          `json:"jobId,omitempty"`
	Attempts   int             `json:"attempts"`
}

type Diagnostics struct {
	Degraded bool     `json:"degraded"`
	Notes    []string `json:"notes"`
	Failures []string `json:"failures"`
}

func (d *Diagnostics) Note(msg string)    { d.Notes = append(d.Notes, msg) }
func (d *Diagnostics) Failure(msg string) { d.Failures = append(d.Failures, msg) }

type Verification struct {
	Confidence float64 `json:"confidence"`
}

// TaskRun is the orchestrated execution of a task's plan.
type TaskRun struct {
	ID           string            `json:"id"`
	Task         string            `json:"task"`
	Intent       *Intent           `json:"intent,omitempty"`
	Plan         []PlanStep        `json:"plan"`
	RunState     RunState          `json:"runState"`
	DryRun       bool              `json:"dryRun"`
	Context      map[string]string `json:"context,omitempty"`
	Checkpoint   int               `json:"checkpoint"`
	Attempts     Attempts          `json:"attempts"`
	Diagnostics  Diagnostics       `json:"diagnostics"`
	Verification Verification      `json:"verification"`
	ExecutionID  string            `json:"executionId,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

func (r *TaskRun) Status() RunStatus {
	return DeriveStatus(r.RunState, r.Intent != nil, r.Diagnostics)
}

// DeriveStatus computes the reported status from the run state and
// diagnostics. It is the only place status is decided.
func DeriveStatus(state RunState, hasIntent bool, d Diagnostics) RunStatus {
	switch {
	case !hasIntent || state == RunStateNoMatch:
		return RunStatusNoMatch
	case state == RunStateFailed:
		return RunStatusFailed
	case len(d.Failures) > 0:
		return RunStatusPartial
	case d.Degraded || state == RunStateDegraded:
		return RunStatusDegraded
	default:
		return RunStatusOK
	}
}

// MarshalJSON adds the derived status to the persisted/served shape.
func (r TaskRun) MarshalJSON() ([]byte, error) {
	type alias TaskRun
	if r.Diagnostics.Notes == nil {
		r.Diagnostics.Notes = []string{}
	}
	if r.Diagnostics.Failures == nil {
		r.Diagnostics.Failures = []string{}
	}
	if r.Plan == nil {
		r.Plan = []PlanStep{}
	}
	return json.Marshal(struct {
		alias
		Status RunStatus `json:"status"`
	}{alias: alias(r), Status: r.Status()})
}

// Touch moves UpdatedAt forward, never backwards.
func (r *TaskRun) Touch(now time.Time) {
	if now.After(r.UpdatedAt) {
		r.UpdatedAt = now
	}
}

// HasRetryableSteps reports whether any step failed or was skipped.
func (r *TaskRun) HasRetryableSteps() bool {
	for _, s := range r.Plan {
		if s.Status == StepStatusFailed || s.Status == StepStatusSkipped {
			return true
		}
	}
	return false
}

func (r *TaskRun) Clone() *TaskRun {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Intent != nil {
		in := *r.Intent
		cp.Intent = &in
	}
	if r.Plan != nil {
		cp.Plan = make([]PlanStep, len(r.Plan))
		for i, s := range r.Plan {
			cp.Plan[i] = s.clone()
		}
	}
	if r.Context != nil {
		cp.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			cp.Context[k] = v
		}
	}
	cp.Diagnostics.Notes = append([]string(nil), r.Diagnostics.Notes...)
	cp.Diagnostics.Failures = append([]string(nil), r.Diagnostics.Failures...)
	return &cp
}

func (s PlanStep) clone() PlanStep {
	cp := s
	if s.Input != nil {
		cp.Input = make(map[string]any, len(s.Input))
		for k, v := range s.Input {
			cp.Input[k] = v
		}
	}
	if s.Output != nil {
		cp.Output = append(json.RawMessage(nil), s.Output...)
	}
	return cp
}
