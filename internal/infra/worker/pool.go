package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"task-orchestrator/internal/domain"

	"github.com/rs/zerolog"
)

// Task is one unit of work run by the pool.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of goroutines. Submit never
// blocks: a saturated backlog is reported as domain.ErrQueueFull.
type Pool struct {
	wg     sync.WaitGroup
	jobs   chan Task
	n      int
	log    *zerolog.Logger
	mu     sync.Mutex
	cancel context.CancelFunc
	done   bool
}

func NewPool(workers, backlog int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if backlog <= 0 {
		backlog = workers * 4
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{jobs: make(chan Task, backlog), n: workers, log: &l}
}

// Start launches the workers. Tasks receive a context that is cancelled by
// Stop or by the parent.
func (p *Pool) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					if err := p.safeRun(ctx, task); err != nil {
						p.log.Error().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i)
	}
}

func (p *Pool) safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.Error().Interface("panic", rec).Msg("task panicked")
			err = errors.New("task panicked")
		}
	}()
	return task(ctx)
}

// Stop cancels running tasks and waits for the workers to exit. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.Lock()
	stopped := p.done
	p.mu.Unlock()
	if stopped {
		return domain.ErrQueueStopped
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Pending is the number of tasks waiting for a worker.
func (p *Pool) Pending() int { return len(p.jobs) }
