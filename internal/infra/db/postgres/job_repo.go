package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, type, payload, status, attempts_current, attempts_max, result, last_error, created_at, updated_at`

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job == nil || job.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  attempts_current = EXCLUDED.attempts_current,
  result = EXCLUDED.result,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at
WHERE jobs.status NOT IN ('succeeded', 'failed');`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.Type, nullJSON(job.Payload), string(job.Status),
		job.Attempts.Current, job.Attempts.Max, nullJSON(job.Result), job.Error,
		job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ListUnfinished(ctx context.Context) ([]*model.Job, error) {
	rows, err := queryRows(ctx, r.pool, nil, `
SELECT `+jobColumns+`
FROM jobs
WHERE status NOT IN ('succeeded', 'failed')
ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j       model.Job
		status  string
		payload []byte
		result  []byte
	)
	err := row.Scan(&j.ID, &j.Type, &payload, &status, &j.Attempts.Current, &j.Attempts.Max,
		&result, &j.Error, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	j.Status = model.JobStatus(status)
	j.Payload = payload
	j.Result = result
	return &j, nil
}
