package memory

import (
	"context"
	"sort"
	"sync"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

// JobRepo keeps jobs in process memory. Stored values are copies, so callers
// can never mutate a record without going through Save.
type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*model.Job)}
}

func (r *JobRepo) Save(ctx context.Context, _ repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	r.jobs[job.ID] = job.Clone()
	r.mu.Unlock()
	return nil
}

func (r *JobRepo) FindByID(ctx context.Context, _ repository.Tx, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *JobRepo) ListUnfinished(ctx context.Context) ([]*model.Job, error) {
	r.mu.RLock()
	out := make([]*model.Job, 0)
	for _, j := range r.jobs {
		if !j.IsTerminal() {
			out = append(out, j.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}
