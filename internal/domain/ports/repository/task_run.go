package repository

import (
	"context"

	"task-orchestrator/internal/domain/model"
)

// TaskRunRepository persists run records together with their event log.
// Create and Update write the record and append the given events as one unit:
// a crash never leaves a partial record behind.
type TaskRunRepository interface {
	Create(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error
	Get(ctx context.Context, id string) (*model.TaskRun, error)
	Update(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error
	// List returns every stored run, oldest first.
	List(ctx context.Context) ([]*model.TaskRun, error)
	// Events returns a run's events in append order.
	Events(ctx context.Context, runID string) ([]model.RunEvent, error)
}
