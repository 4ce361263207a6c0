package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/repository"
)

var _ repository.TaskRunRepository = (*TaskRunRepo)(nil)

const runIndexKey = "task_runs"

func runKey(id string) string    { return "task_run:" + id }
func eventsKey(id string) string { return "task_run_events:" + id }

// TaskRunRepo keeps each run as a JSON string, the ids in a set and the events
// in a per-run list. The record write and the event push share one MULTI/EXEC,
// guarded by WATCH on the record key.
type TaskRunRepo struct {
	cli *redis.Client
}

func NewTaskRunRepo(c *Client) *TaskRunRepo {
	return &TaskRunRepo{cli: c.cli}
}

func (r *TaskRunRepo) Create(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	return r.write(ctx, run, events, false)
}

func (r *TaskRunRepo) Update(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	return r.write(ctx, run, events, true)
}

func (r *TaskRunRepo) write(ctx context.Context, run *model.TaskRun, events []model.RunEvent, mustExist bool) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	evs := make([]interface{}, 0, len(events))
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		evs = append(evs, string(b))
	}

	key := runKey(run.ID)
	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		switch {
		case mustExist && n == 0:
			return domain.ErrNotFound
		case !mustExist && n > 0:
			return fmt.Errorf("%w: run %s", domain.ErrAlreadyExists, run.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			pipe.SAdd(ctx, runIndexKey, run.ID)
			if len(evs) > 0 {
				pipe.RPush(ctx, eventsKey(run.ID), evs...)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("run %s changed concurrently: %w", run.ID, err)
	}
	return err
}

func (r *TaskRunRepo) Get(ctx context.Context, id string) (*model.TaskRun, error) {
	raw, err := r.cli.Get(ctx, runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return decodeRun(raw)
}

func (r *TaskRunRepo) List(ctx context.Context) ([]*model.TaskRun, error) {
	ids, err := r.cli.SMembers(ctx, runIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*model.TaskRun, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	vals, err := r.cli.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // indexed but gone
		}
		run, err := decodeRun([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *TaskRunRepo) Events(ctx context.Context, runID string) ([]model.RunEvent, error) {
	vals, err := r.cli.LRange(ctx, eventsKey(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.RunEvent, 0, len(vals))
	for _, v := range vals {
		var ev model.RunEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			return nil, fmt.Errorf("%w: event: %v", domain.ErrCorruptRecord, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeRun(raw []byte) (*model.TaskRun, error) {
	var run model.TaskRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("%w: run: %v", domain.ErrCorruptRecord, err)
	}
	return &run, nil
}
