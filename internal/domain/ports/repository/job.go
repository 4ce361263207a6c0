package repository

import (
	"context"

	"task-orchestrator/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// ListUnfinished returns jobs that are not yet succeeded or failed.
	ListUnfinished(ctx context.Context) ([]*model.Job, error)
}
