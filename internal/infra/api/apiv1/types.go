package apiv1

import (
	"encoding/json"

	"task-orchestrator/internal/domain/model"
)

type SubmitTaskRequest struct {
	Task          string            `json:"task"`
	DryRun        bool              `json:"dryRun,omitempty"`
	Async         bool              `json:"async,omitempty"`
	WaitTimeoutMs int               `json:"waitTimeoutMs,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}

type ControlRequest struct {
	Action string `json:"action"`
	RunId  string `json:"runId"`
}

type SubmitJobRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
}

// ListRunsParams defines parameters for ListRuns.
type ListRunsParams struct {
	State *string `form:"state,omitempty" json:"state,omitempty"`
	Limit *int    `form:"limit,omitempty" json:"limit,omitempty"`
}

// GetJobStatusParams defines parameters for GetJobStatus.
type GetJobStatusParams struct {
	Id string `form:"id" json:"id"`
}

type IntentView struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type Execution struct {
	Steps []model.PlanStep `json:"steps"`
}

// TaskResponse is the settled answer to a synchronous submit.
type TaskResponse struct {
	RunId        string             `json:"runId"`
	Status       model.RunStatus    `json:"status"`
	RunState     model.RunState     `json:"runState"`
	Intent       *IntentView        `json:"intent"`
	Plan         []PlanItem         `json:"plan"`
	Execution    Execution          `json:"execution"`
	Diagnostics  model.Diagnostics  `json:"diagnostics"`
	Verification model.Verification `json:"verification"`
}

// PlanItem is the static shape of a step, without its outcome.
type PlanItem struct {
	Index      int              `json:"index"`
	Capability model.Capability `json:"capability"`
	Required   bool             `json:"required"`
	Input      map[string]any   `json:"input"`
}

type AcceptedResponse struct {
	RunId    string          `json:"runId"`
	Status   model.RunStatus `json:"status,omitempty"`
	RunState model.RunState  `json:"runState,omitempty"`
}

type RunList struct {
	Items []*model.TaskRun `json:"items"`
}

type EventList struct {
	Items []model.RunEvent `json:"items"`
}

type JobAccepted struct {
	JobId string `json:"jobId"`
}

type JobStatusResponse struct {
	Job *model.Job `json:"job"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func toTaskResponse(run *model.TaskRun) TaskResponse {
	resp := TaskResponse{
		RunId:        run.ID,
		Status:       run.Status(),
		RunState:     run.RunState,
		Plan:         make([]PlanItem, 0, len(run.Plan)),
		Execution:    Execution{Steps: run.Plan},
		Diagnostics:  run.Diagnostics,
		Verification: run.Verification,
	}
	if resp.Execution.Steps == nil {
		resp.Execution.Steps = []model.PlanStep{}
	}
	if resp.Diagnostics.Notes == nil {
		resp.Diagnostics.Notes = []string{}
	}
	if resp.Diagnostics.Failures == nil {
		resp.Diagnostics.Failures = []string{}
	}
	resp.Intent = &IntentView{Label: "none"}
	if run.Intent != nil {
		resp.Intent = &IntentView{Label: run.Intent.Label, Confidence: run.Intent.Confidence}
	}
	for _, s := range run.Plan {
		resp.Plan = append(resp.Plan, PlanItem{Index: s.Index, Capability: s.Capability, Required: s.Required, Input: s.Input})
	}
	return resp
}
