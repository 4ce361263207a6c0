package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/repository"
)

var _ repository.TaskRunRepository = (*taskRunRepo)(nil)

// taskRunRepo stores each run as a jsonb document next to the columns the
// scans filter on. A record and its events are written in one transaction.
type taskRunRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewTaskRunRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *taskRunRepo {
	return &taskRunRepo{pool: pool, tm: tm}
}

const uniqueViolation = "23505"

func (r *taskRunRepo) Create(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		_, err := execSQL(ctx, r.pool, tx, `
INSERT INTO task_runs (id, run_state, created_at, updated_at, doc)
VALUES ($1, $2, $3, $4, $5::jsonb)`,
			run.ID, string(run.RunState), run.CreatedAt, run.UpdatedAt, string(doc))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%w: run %s", domain.ErrAlreadyExists, run.ID)
			}
			return err
		}
		return r.appendEvents(ctx, tx, events)
	})
}

func (r *taskRunRepo) Get(ctx context.Context, id string) (*model.TaskRun, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT doc FROM task_runs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	return scanRun(row)
}

func (r *taskRunRepo) Update(ctx context.Context, run *model.TaskRun, events ...model.RunEvent) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		tag, err := execSQL(ctx, r.pool, tx, `
UPDATE task_runs SET run_state = $2, updated_at = $3, doc = $4::jsonb
WHERE id = $1`,
			run.ID, string(run.RunState), run.UpdatedAt, string(doc))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return r.appendEvents(ctx, tx, events)
	})
}

func (r *taskRunRepo) List(ctx context.Context) ([]*model.TaskRun, error) {
	rows, err := queryRows(ctx, r.pool, nil, `SELECT doc FROM task_runs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.TaskRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *taskRunRepo) Events(ctx context.Context, runID string) ([]model.RunEvent, error) {
	rows, err := queryRows(ctx, r.pool, nil, `SELECT doc FROM task_run_events WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.RunEvent, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		var ev model.RunEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: event: %v", domain.ErrCorruptRecord, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *taskRunRepo) appendEvents(ctx context.Context, tx repository.Tx, events []model.RunEvent) error {
	for _, ev := range events {
		doc, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := execSQL(ctx, r.pool, tx, `
INSERT INTO task_run_events (id, run_id, type, ts, doc)
VALUES ($1, $2, $3, $4, $5::jsonb)`,
			ev.ID, ev.RunID, string(ev.Type), ev.Timestamp, string(doc)); err != nil {
			return fmt.Errorf("append event %s: %w", ev.Type, err)
		}
	}
	return nil
}

func scanRun(row pgx.Row) (*model.TaskRun, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	var run model.TaskRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("%w: run: %v", domain.ErrCorruptRecord, err)
	}
	return &run, nil
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
