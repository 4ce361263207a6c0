package model

import (
	"encoding/json"
	"time"

	"task-orchestrator/internal/domain"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Attempts counts executions; Current includes the first one.
type Attempts struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

func (a Attempts) Remaining() bool { return a.Current < a.Max }

// Job is one retryable capability call owned by the job queue.
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    JobStatus       `json:"status"`
	Attempts  Attempts        `json:"attempts"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func NewJob(id, jobType string, payload json.RawMessage, maxAttempts int, now time.Time) (*Job, error) {
	if id == "" || jobType == "" || maxAttempts <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, domain.ErrInvalidArgument
	}
	return &Job{
		ID:        id,
		Type:      jobType,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    JobStatusQueued,
		Attempts:  Attempts{Current: 0, Max: maxAttempts},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// Touch moves UpdatedAt forward, never backwards.
func (j *Job) Touch(now time.Time) {
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Payload = append(json.RawMessage(nil), j.Payload...)
	cp.Result = append(json.RawMessage(nil), j.Result...)
	if len(j.Payload) == 0 {
		cp.Payload = nil
	}
	if len(j.Result) == 0 {
		cp.Result = nil
	}
	return &cp
}
