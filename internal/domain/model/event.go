package model

import "time"

type RunEventType string

const (
	EventRunCreated        RunEventType = "run.created"
	EventRunNoMatch        RunEventType = "run.no_match"
	EventRunStarted        RunEventType = "run.started"
	EventRunStepFinished   RunEventType = "run.step.finished"
	EventRunPaused         RunEventType = "run.paused"
	EventRunResumed        RunEventType = "run.resumed"
	EventRunRetryScheduled RunEventType = "run.retry.scheduled"
	EventRunCompleted      RunEventType = "run.completed"
	EventRunFailed         RunEventType = "run.failed"
)

// RunEvent is one line of the append-only run event log.
type RunEvent struct {
	ID        string         `json:"id"`
	Type      RunEventType   `json:"type"`
	RunID     string         `json:"runId"`
	Timestamp time.Time      `json:"timestamp"`
	From      RunState       `json:"from,omitempty"`
	To        RunState       `json:"to,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
