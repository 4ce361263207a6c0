//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewJobRepo(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("should save and update a job", func(t *testing.T) {
		cleanup(t)

		job, err := model.NewJob(uuid.NewString(), "video", json.RawMessage(`{"prompt":"teaser"}`), 3, now)
		if err != nil {
			t.Fatalf("NewJob: %v", err)
		}
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatalf("failed to save new job: %v", err)
		}

		job.Status = model.JobStatusSucceeded
		job.Attempts.Current = 2
		job.Result = json.RawMessage(`{"ok":true}`)
		job.UpdatedAt = now.Add(time.Second)
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatalf("failed to update job: %v", err)
		}

		got, err := repo.FindByID(ctx, nil, job.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.Status != model.JobStatusSucceeded || got.Attempts.Current != 2 || got.Attempts.Max != 3 {
			t.Fatalf("unexpected job: %+v", got)
		}
		var res map[string]bool
		if err := json.Unmarshal(got.Result, &res); err != nil || !res["ok"] {
			t.Fatalf("unexpected result %s", got.Result)
		}
	})

	t.Run("terminal jobs are not overwritten", func(t *testing.T) {
		cleanup(t)

		job, _ := model.NewJob(uuid.NewString(), "image", nil, 1, now)
		job.Status = model.JobStatusFailed
		job.Error = "boom"
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatalf("save: %v", err)
		}
		job.Status = model.JobStatusRunning
		if err := repo.Save(ctx, nil, job); err != nil {
			t.Fatalf("second save: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, job.ID)
		if got.Status != model.JobStatusFailed || got.Error != "boom" {
			t.Fatalf("terminal job changed: %+v", got)
		}
	})

	t.Run("should list unfinished jobs", func(t *testing.T) {
		cleanup(t)

		queued, _ := model.NewJob(uuid.NewString(), "video", nil, 3, now)
		done, _ := model.NewJob(uuid.NewString(), "video", nil, 3, now.Add(time.Second))
		done.Status = model.JobStatusSucceeded
		for _, j := range []*model.Job{queued, done} {
			if err := repo.Save(ctx, nil, j); err != nil {
				t.Fatalf("save: %v", err)
			}
		}
		jobs, err := repo.ListUnfinished(ctx)
		if err != nil {
			t.Fatalf("ListUnfinished: %v", err)
		}
		if len(jobs) != 1 || jobs[0].ID != queued.ID {
			t.Fatalf("expected only the queued job, got %d", len(jobs))
		}
	})

	t.Run("should return ErrNotFound", func(t *testing.T) {
		cleanup(t)
		if _, err := repo.FindByID(ctx, nil, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
