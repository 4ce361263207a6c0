//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
)

func TestTaskRunRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewTaskRunRepo(testPool, NewTxManager(testPool))
	now := time.Now().UTC().Truncate(time.Millisecond)

	newRun := func(id string, created time.Time) *model.TaskRun {
		return &model.TaskRun{
			ID:        id,
			Task:      "create company plan",
			Intent:    &model.Intent{Label: "plan.generate", Confidence: 0.7},
			Plan:      []model.PlanStep{{Index: 0, Capability: model.CapabilityPlan, Required: true, Status: model.StepStatusPending}},
			RunState:  model.RunStateRunning,
			Attempts:  model.Attempts{Current: 1, Max: 3},
			CreatedAt: created,
			UpdatedAt: created,
		}
	}
	event := func(id, runID string, typ model.RunEventType) model.RunEvent {
		return model.RunEvent{ID: id, RunID: runID, Type: typ, Timestamp: now}
	}

	t.Run("should create, update and read back a run with its events", func(t *testing.T) {
		cleanup(t)

		run := newRun("r1", now)
		if err := repo.Create(ctx, run, event("e1", "r1", model.EventRunCreated)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Create(ctx, run); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}

		run.RunState = model.RunStatePaused
		run.Plan[0].Status = model.StepStatusSucceeded
		run.UpdatedAt = now.Add(time.Second)
		if err := repo.Update(ctx, run, event("e2", "r1", model.EventRunPaused)); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.RunState != model.RunStatePaused || got.Plan[0].Status != model.StepStatusSucceeded {
			t.Fatalf("unexpected run: %+v", got)
		}
		evs, err := repo.Events(ctx, "r1")
		if err != nil {
			t.Fatalf("Events: %v", err)
		}
		if len(evs) != 2 || evs[0].Type != model.EventRunCreated || evs[1].Type != model.EventRunPaused {
			t.Fatalf("unexpected events: %+v", evs)
		}
	})

	t.Run("failed event insert rolls back the record", func(t *testing.T) {
		cleanup(t)

		run := newRun("r1", now)
		if err := repo.Create(ctx, run, event("dup", "r1", model.EventRunCreated)); err != nil {
			t.Fatalf("Create: %v", err)
		}
		run.RunState = model.RunStateFailed
		if err := repo.Update(ctx, run, event("dup", "r1", model.EventRunFailed)); err == nil {
			t.Fatal("expected duplicate event id to fail")
		}
		got, _ := repo.Get(ctx, "r1")
		if got.RunState != model.RunStateRunning {
			t.Fatalf("record changed despite rollback: %s", got.RunState)
		}
	})

	t.Run("should list oldest first and report missing runs", func(t *testing.T) {
		cleanup(t)

		for _, r := range []*model.TaskRun{newRun("b", now.Add(time.Second)), newRun("a", now)} {
			if err := repo.Create(ctx, r); err != nil {
				t.Fatalf("Create %s: %v", r.ID, err)
			}
		}
		runs, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(runs) != 2 || runs[0].ID != "a" || runs[1].ID != "b" {
			t.Fatalf("unexpected order: %v", runs)
		}
		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Update(ctx, newRun("missing", now)); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on update, got %v", err)
		}
	})
}
