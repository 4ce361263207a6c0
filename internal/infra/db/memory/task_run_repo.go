package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/repository"
)

var _ repository.TaskRunRepository = (*TaskRunRepo)(nil)

// TaskRunRepo is the non-durable run store used in tests and with
// store.backend=memory.
type TaskRunRepo struct {
	mu     sync.RWMutex
	runs   map[string]*model.TaskRun
	events map[string][]model.RunEvent
}

func NewTaskRunRepo() *TaskRunRepo {
	return &TaskRunRepo{
		runs:   make(map[string]*model.TaskRun),
		events: make(map[string][]model.RunEvent),
	}
}

func (r *TaskRunRepo) Create(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	if run == nil || run.ID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("%w: run %s", domain.ErrAlreadyExists, run.ID)
	}
	r.runs[run.ID] = run.Clone()
	r.events[run.ID] = append(r.events[run.ID], events...)
	return nil
}

func (r *TaskRunRepo) Get(ctx context.Context, id string) (*model.TaskRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run.Clone(), nil
}

func (r *TaskRunRepo) Update(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	if run == nil {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return domain.ErrNotFound
	}
	r.runs[run.ID] = run.Clone()
	r.events[run.ID] = append(r.events[run.ID], events...)
	return nil
}

func (r *TaskRunRepo) List(ctx context.Context) ([]*model.TaskRun, error) {
	r.mu.RLock()
	out := make([]*model.TaskRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.Clone())
	}
	r.mu.RUnlock()
	sortRuns(out)
	return out, nil
}

func (r *TaskRunRepo) Events(ctx context.Context, runID string) ([]model.RunEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.RunEvent(nil), r.events[runID]...), nil
}

// sortRuns orders oldest first; ids break ties so scans are stable.
func sortRuns(runs []*model.TaskRun) {
	sort.Slice(runs, func(i, k int) bool {
		if runs[i].CreatedAt.Equal(runs[k].CreatedAt) {
			return runs[i].ID < runs[k].ID
		}
		return runs[i].CreatedAt.Before(runs[k].CreatedAt)
	})
}
