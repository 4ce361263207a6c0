package adapter

import (
	"context"

	"task-orchestrator/internal/domain/model"
)

// EventNotifier receives run events after they are persisted. Delivery is
// best-effort; errors are logged by the caller and never roll back state.
type EventNotifier interface {
	Notify(ctx context.Context, run *model.TaskRun, ev model.RunEvent) error
}
