package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
)

func TestTaskRunRepo_CreateUpdateEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewTaskRunRepo()
	now := time.Now()
	run := &model.TaskRun{ID: "r1", Task: "make a logo", RunState: model.RunStatePlanned, CreatedAt: now, UpdatedAt: now}

	if err := repo.Create(ctx, run, model.RunEvent{ID: "e1", Type: model.EventRunCreated, RunID: "r1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, run); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	run.RunState = model.RunStateRunning // caller copy, not stored yet
	got, _ := repo.Get(ctx, "r1")
	if got.RunState != model.RunStatePlanned {
		t.Fatalf("stored run mutated through caller pointer: %s", got.RunState)
	}

	if err := repo.Update(ctx, run, model.RunEvent{ID: "e2", Type: model.EventRunStarted, RunID: "r1"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	evs, err := repo.Events(ctx, "r1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(evs) != 2 || evs[0].ID != "e1" || evs[1].ID != "e2" {
		t.Fatalf("unexpected events %+v", evs)
	}

	if err := repo.Update(ctx, &model.TaskRun{ID: "nope"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskRunRepo_ListOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewTaskRunRepo()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		_ = repo.Create(ctx, &model.TaskRun{ID: id, RunState: model.RunStatePlanned, CreatedAt: base.Add(time.Duration(2-i) * time.Minute)})
	}
	runs, _ := repo.List(ctx)
	want := []string{"b", "a", "c"}
	for i, r := range runs {
		if r.ID != want[i] {
			t.Fatalf("position %d: expected %s got %s", i, want[i], r.ID)
		}
	}
}
