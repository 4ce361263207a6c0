package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
)

func TestJobRepo_SaveFindCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewJobRepo()
	job, err := model.NewJob("j1", "video", []byte(`{"prompt":"x"}`), 3, time.Now())
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if err := repo.Save(ctx, nil, job); err != nil {
		t.Fatalf("Save: %v", err)
	}
	job.Status = model.JobStatusFailed // must not leak into the store

	got, err := repo.FindByID(ctx, nil, "j1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != model.JobStatusQueued {
		t.Fatalf("expected stored copy to stay queued, got %s", got.Status)
	}

	if _, err := repo.FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobRepo_ListUnfinished(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewJobRepo()
	now := time.Now()
	for i, st := range []model.JobStatus{model.JobStatusQueued, model.JobStatusSucceeded, model.JobStatusRetrying} {
		j, _ := model.NewJob(string(rune('a'+i)), "image", nil, 2, now.Add(time.Duration(i)*time.Second))
		j.Status = st
		_ = repo.Save(ctx, nil, j)
	}
	got, err := repo.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("ListUnfinished: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected unfinished jobs: %+v", got)
	}
}
