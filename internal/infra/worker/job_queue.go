package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/domain/ports/repository"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type JobQueueConfig struct {
	AttemptTimeout time.Duration
	MaxAttempts    int // used when Submit gets maxAttempts <= 0
	Backoff        time.Duration
	MaxBackoff     time.Duration
}

// JobQueue executes capability calls as retryable jobs. Each attempt runs
// under AttemptTimeout; timeouts and transient errors are retried until
// attempts run out, permanent errors fail the job at once.
type JobQueue struct {
	repo     repository.JobRepository
	registry adapter.CapabilityRegistry
	pool     *Pool
	clock    clock.Clock
	cfg      JobQueueConfig
	log      *zerolog.Logger

	// After is the delay source for retry backoff; tests replace it.
	After func(d time.Duration) <-chan time.Time
	NewID func() string

	mu      sync.Mutex // serializes job record transitions
	waiters map[string][]chan struct{}
	stop    chan struct{}
	stopped sync.Once
}

func NewJobQueue(
	repo repository.JobRepository,
	registry adapter.CapabilityRegistry,
	pool *Pool,
	clk clock.Clock,
	cfg JobQueueConfig,
	logger *zerolog.Logger,
) *JobQueue {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &JobQueue{
		repo:     repo,
		registry: registry,
		pool:     pool,
		clock:    clk,
		cfg:      cfg,
		log:      logging.Component(logger, "JobQueue"),
		After:    time.After,
		NewID:    uuid.NewString,
		waiters:  make(map[string][]chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Start runs the worker pool and re-enqueues jobs left unfinished by a
// previous process.
func (q *JobQueue) Start(ctx context.Context) error {
	q.pool.Start(ctx)
	unfinished, err := q.repo.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished jobs: %w", err)
	}
	for _, job := range unfinished {
		if !job.Attempts.Remaining() {
			q.finish(ctx, job.ID, model.JobStatusFailed, nil, errors.New("interrupted with no attempts left"))
			continue
		}
		q.enqueue(job.ID)
	}
	if n := len(unfinished); n > 0 {
		q.log.Info().Int("count", n).Msg("recovered unfinished jobs")
	}
	return nil
}

func (q *JobQueue) Stop() {
	q.stopped.Do(func() { close(q.stop) })
	q.pool.Stop()
}

// Submit records a queued job and schedules its first attempt. It returns
// immediately.
func (q *JobQueue) Submit(ctx context.Context, jobType string, payload json.RawMessage, maxAttempts int) (string, error) {
	if _, ok := q.registry.Lookup(model.Capability(jobType)); !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownCapability, jobType)
	}
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}
	job, err := model.NewJob(q.NewID(), jobType, payload, maxAttempts, q.clock.Now())
	if err != nil {
		return "", err
	}
	if err := q.repo.Save(ctx, nil, job); err != nil {
		return "", fmt.Errorf("save job: %w", err)
	}
	if err := q.pool.Submit(q.attemptTask(job.ID)); err != nil {
		q.finish(ctx, job.ID, model.JobStatusFailed, nil, err)
		return "", err
	}
	q.log.Info().Str("job_id", job.ID).Str("type", jobType).Int("max_attempts", maxAttempts).Msg("job queued")
	return job.ID, nil
}

// Status is a non-blocking read of the job record.
func (q *JobQueue) Status(ctx context.Context, id string) (*model.Job, error) {
	return q.repo.FindByID(ctx, nil, id)
}

// Await blocks until the job is terminal or ctx is done.
func (q *JobQueue) Await(ctx context.Context, id string) (*model.Job, error) {
	q.mu.Lock()
	job, err := q.repo.FindByID(ctx, nil, id)
	if err != nil {
		q.mu.Unlock()
		return nil, err
	}
	if job.IsTerminal() {
		q.mu.Unlock()
		return job, nil
	}
	ch := make(chan struct{})
	q.waiters[id] = append(q.waiters[id], ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return q.repo.FindByID(ctx, nil, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *JobQueue) attemptTask(id string) Task {
	return func(ctx context.Context) error {
		q.runAttempt(ctx, id)
		return nil
	}
}

func (q *JobQueue) enqueue(id string) {
	if err := q.pool.Submit(q.attemptTask(id)); err != nil {
		if errors.Is(err, domain.ErrQueueStopped) {
			return
		}
		// backlog full: try again shortly rather than dropping the attempt
		q.later(q.cfg.Backoff, id)
	}
}

func (q *JobQueue) later(d time.Duration, id string) {
	go func() {
		select {
		case <-q.After(d):
			q.enqueue(id)
		case <-q.stop:
		}
	}()
}

func (q *JobQueue) runAttempt(ctx context.Context, id string) {
	job, ok := q.beginAttempt(ctx, id)
	if !ok {
		return
	}
	log := q.log.With().Str("job_id", job.ID).Str("type", job.Type).Int("attempt", job.Attempts.Current).Logger()

	res, err := q.invoke(ctx, job)
	if ctx.Err() != nil {
		// queue shutting down: leave the job for recovery on next start
		log.Warn().Msg("attempt interrupted by shutdown")
		return
	}
	if err == nil {
		metrics.IncJobAttempt(job.Type, "ok")
		out, _ := json.Marshal(res)
		q.finish(ctx, id, model.JobStatusSucceeded, out, nil)
		log.Info().Msg("job succeeded")
		return
	}

	if adapter.IsTransient(err) && job.Attempts.Remaining() {
		metrics.IncJobAttempt(job.Type, "transient")
		if q.markRetrying(ctx, id) {
			delay := q.backoff(job.Attempts.Current)
			log.Warn().Err(err).Dur("backoff", delay).Msg("job attempt failed; retrying")
			q.later(delay, id)
		}
		return
	}

	if adapter.IsTransient(err) {
		metrics.IncJobAttempt(job.Type, "transient")
	} else {
		metrics.IncJobAttempt(job.Type, "permanent")
	}
	q.finish(ctx, id, model.JobStatusFailed, nil, err)
	log.Error().Err(err).Msg("job failed")
}

// beginAttempt moves the job to running and counts the attempt.
func (q *JobQueue) beginAttempt(ctx context.Context, id string) (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.repo.FindByID(ctx, nil, id)
	if err != nil {
		q.log.Error().Err(err).Str("job_id", id).Msg("load job")
		return nil, false
	}
	if job.IsTerminal() || !job.Attempts.Remaining() {
		return nil, false
	}
	job.Attempts.Current++
	job.Status = model.JobStatusRunning
	job.Touch(q.clock.Now())
	if err := q.repo.Save(ctx, nil, job); err != nil {
		q.log.Error().Err(err).Str("job_id", id).Msg("save running job")
		return nil, false
	}
	return job, true
}

func (q *JobQueue) invoke(ctx context.Context, job *model.Job) (res adapter.CapabilityResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			q.log.Error().Interface("panic", rec).Str("job_id", job.ID).Msg("provider panicked")
			res, err = adapter.CapabilityResult{}, adapter.Permanent(fmt.Errorf("provider panic: %v", rec))
		}
	}()

	provider, ok := q.registry.Lookup(model.Capability(job.Type))
	if !ok {
		return adapter.CapabilityResult{}, adapter.Permanent(fmt.Errorf("%w: %q", domain.ErrUnknownCapability, job.Type))
	}
	input := map[string]any{}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &input); err != nil {
			return adapter.CapabilityResult{}, adapter.Permanent(fmt.Errorf("payload must be a JSON object: %w", err))
		}
	}

	attemptCtx, cancel := context.WithTimeout(logging.WithJobID(ctx, job.ID), q.cfg.AttemptTimeout)
	defer cancel()

	metrics.JobStarted()
	defer metrics.JobFinished()

	res, err = provider.Invoke(attemptCtx, adapter.CapabilityRequest{
		Capability: model.Capability(job.Type),
		Input:      input,
	})
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return res, adapter.Transient(fmt.Errorf("attempt timed out after %s: %w", q.cfg.AttemptTimeout, err))
	}
	return res, err
}

// markRetrying parks the job between attempts. The error stays empty until
// the job is terminal.
func (q *JobQueue) markRetrying(ctx context.Context, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.repo.FindByID(ctx, nil, id)
	if err != nil || job.IsTerminal() {
		return false
	}
	job.Status = model.JobStatusRetrying
	job.Error = ""
	job.Touch(q.clock.Now())
	if err := q.repo.Save(ctx, nil, job); err != nil {
		q.log.Error().Err(err).Str("job_id", id).Msg("save retrying job")
		return false
	}
	return true
}

// finish moves a job to a terminal state and wakes its waiters. A job that
// is already terminal is left untouched.
func (q *JobQueue) finish(ctx context.Context, id string, status model.JobStatus, result json.RawMessage, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.repo.FindByID(ctx, nil, id)
	if err != nil || job.IsTerminal() {
		return
	}
	job.Status = status
	job.Result = result
	job.Error = ""
	if cause != nil {
		job.Error = cause.Error()
	}
	job.Touch(q.clock.Now())
	// terminal writes must land even if the worker context is winding down
	if err := q.repo.Save(context.WithoutCancel(ctx), nil, job); err != nil {
		q.log.Error().Err(err).Str("job_id", id).Msg("save terminal job")
		return
	}
	metrics.IncJobFinished(job.Type, string(status))
	for _, ch := range q.waiters[id] {
		close(ch)
	}
	delete(q.waiters, id)
}

func (q *JobQueue) backoff(attempt int) time.Duration {
	d := q.cfg.Backoff
	for i := 1; i < attempt && d < q.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > q.cfg.MaxBackoff {
		d = q.cfg.MaxBackoff
	}
	return d
}
