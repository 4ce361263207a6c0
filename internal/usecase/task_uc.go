package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ TaskUseCase = (*taskUC)(nil)

const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionRetry  = "retry"
)

type SubmitRequest struct {
	Task        string
	DryRun      bool
	Async       bool
	WaitTimeout time.Duration // zero means the configured default
	Context     map[string]string
}

// SubmitResult carries the run as last seen. Accepted is set when the caller
// should poll: async submissions and sync waits that ran out of budget.
type SubmitResult struct {
	Run      *model.TaskRun
	Accepted bool
}

type TaskUseCase interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Control(ctx context.Context, runID, action string) (*model.TaskRun, error)
	Get(ctx context.Context, runID string) (*model.TaskRun, error)
	List(ctx context.Context) ([]*model.TaskRun, error)
	Events(ctx context.Context, runID string) ([]model.RunEvent, error)
	RecoverStalled(ctx context.Context, staleBefore time.Time) (int, error)
	ResumeInterrupted(ctx context.Context) (int, error)
	Close()
}

type TaskConfig struct {
	DefaultWait    time.Duration
	MaxWait        time.Duration
	RunMaxAttempts int
}

type execution struct {
	id     string
	cancel context.CancelFunc
}

type taskUC struct {
	resolver *IntentResolver
	planner  *Planner
	executor *Executor
	store    *RunStore
	clock    clock.Clock
	cfg      TaskConfig
	log      *zerolog.Logger

	newID func() string

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*execution
	closed bool
}

func NewTaskUseCase(
	resolver *IntentResolver,
	planner *Planner,
	executor *Executor,
	store *RunStore,
	clk clock.Clock,
	cfg TaskConfig,
	logger *zerolog.Logger,
) *taskUC {
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = 30 * time.Second
	}
	if cfg.MaxWait < cfg.DefaultWait {
		cfg.MaxWait = cfg.DefaultWait
	}
	if cfg.RunMaxAttempts <= 0 {
		cfg.RunMaxAttempts = 3
	}
	if clk == nil {
		clk = clock.Real{}
	}
	base, stop := context.WithCancel(context.Background())
	return &taskUC{
		resolver: resolver,
		planner:  planner,
		executor: executor,
		store:    store,
		clock:    clk,
		cfg:      cfg,
		log:      logging.Component(logger, "TaskUseCase"),
		newID:    func() string { return ulid.Make().String() },
		base:     base,
		stop:     stop,
		active:   make(map[string]*execution),
	}
}

func (uc *taskUC) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	task := strings.TrimSpace(req.Task)
	run := &model.TaskRun{
		ID:       uc.newID(),
		Task:     req.Task,
		DryRun:   req.DryRun,
		Context:  req.Context,
		Attempts: model.Attempts{Current: 1, Max: uc.cfg.RunMaxAttempts},
	}
	log := logging.With(logging.WithRunID(ctx, run.ID), uc.log)
	mode := "sync"
	if req.Async {
		mode = "async"
	}

	intent, ok := uc.resolver.Resolve(task)
	if !ok {
		run.RunState = model.RunStateNoMatch
		run.Diagnostics.Note("no intent matched the task text")
		created, err := uc.store.Create(ctx, run)
		if err != nil {
			return nil, err
		}
		metrics.IncRunSubmitted("", mode)
		metrics.IncRunSettled(string(created.Status()))
		log.Info().Str("task", logging.Preview(task, 80)).Msg("no intent matched")
		return &SubmitResult{Run: created, Accepted: req.Async}, nil
	}

	run.Intent = &intent
	run.Plan = uc.planner.Plan(intent, task, PlanOptions{DryRun: req.DryRun, Context: req.Context})
	run.RunState = model.RunStatePlanned
	created, err := uc.store.Create(ctx, run)
	if err != nil {
		return nil, err
	}
	metrics.IncRunSubmitted(intent.Label, mode)
	log.Info().
		Str("intent", intent.Label).
		Float64("confidence", intent.Confidence).
		Int("steps", len(created.Plan)).
		Bool("dry_run", req.DryRun).
		Str("mode", mode).
		Msg("run planned")

	if req.Async {
		uc.launch(created.ID, false)
		return &SubmitResult{Run: created, Accepted: true}, nil
	}

	// watch before launching so no transition is missed
	changed, release := uc.store.Watch(created.ID)
	defer release()
	uc.launch(created.ID, false)
	return uc.wait(ctx, created.ID, changed, uc.waitBudget(req.WaitTimeout))
}

func (uc *taskUC) waitBudget(d time.Duration) time.Duration {
	if d <= 0 {
		return uc.cfg.DefaultWait
	}
	if d > uc.cfg.MaxWait {
		return uc.cfg.MaxWait
	}
	return d
}

// wait blocks until the run settles or pauses. Running out of budget leaves
// the run going and hands the caller its id.
func (uc *taskUC) wait(ctx context.Context, id string, changed <-chan struct{}, budget time.Duration) (*SubmitResult, error) {
	timer := time.NewTimer(budget)
	defer timer.Stop()
	for {
		run, err := uc.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if run.RunState.IsSettled() || run.RunState == model.RunStatePaused {
			return &SubmitResult{Run: run}, nil
		}
		select {
		case <-changed:
		case <-timer.C:
			return &SubmitResult{Run: run, Accepted: true}, nil
		case <-ctx.Done():
			return &SubmitResult{Run: run, Accepted: true}, nil
		}
	}
}

func (uc *taskUC) Control(ctx context.Context, runID, action string) (run *model.TaskRun, err error) {
	action = strings.ToLower(strings.TrimSpace(action))
	defer func() {
		result := "ok"
		if err != nil {
			result = "rejected"
		}
		metrics.IncRunControl(action, result)
	}()

	switch action {
	case ActionPause:
		return uc.store.Pause(ctx, runID)
	case ActionResume:
		run, err = uc.store.Resume(ctx, runID)
		if err != nil {
			return nil, err
		}
		uc.launch(runID, false)
		return run, nil
	case ActionRetry:
		err = uc.launchWith(runID, true, func(execID string) error {
			var rerr error
			run, rerr = uc.store.RetryAs(ctx, runID, "requested", execID)
			return rerr
		})
		if err != nil {
			return nil, err
		}
		return run, nil
	default:
		return nil, fmt.Errorf("%w: %q (want pause, resume or retry)", domain.ErrInvalidAction, action)
	}
}

func (uc *taskUC) Get(ctx context.Context, runID string) (*model.TaskRun, error) {
	return uc.store.Get(ctx, runID)
}

func (uc *taskUC) List(ctx context.Context) ([]*model.TaskRun, error) {
	return uc.store.List(ctx)
}

func (uc *taskUC) Events(ctx context.Context, runID string) ([]model.RunEvent, error) {
	return uc.store.Events(ctx, runID)
}

// RecoverStalled forces a transition on every run that should be making
// progress but has not been touched since staleBefore: another attempt when
// attempts remain, failed otherwise.
func (uc *taskUC) RecoverStalled(ctx context.Context, staleBefore time.Time) (int, error) {
	runs, err := uc.store.List(ctx)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, r := range runs {
		if !r.RunState.IsStallable() || !r.UpdatedAt.Before(staleBefore) {
			continue
		}
		relaunch, changed := false, false
		var updated *model.TaskRun
		err := uc.launchWith(r.ID, true, func(execID string) error {
			var merr error
			updated, merr = uc.store.Mutate(ctx, r.ID, func(run *model.TaskRun) ([]model.RunEvent, error) {
				// re-check under the run lock: it may have moved since the scan
				if !run.RunState.IsStallable() || !run.UpdatedAt.Before(staleBefore) {
					return nil, errUnchanged
				}
				idle := uc.clock.Now().Sub(run.UpdatedAt).Round(time.Second)
				changed = true
				if run.Attempts.Remaining() {
					relaunch = true
					run.ExecutionID = execID
					return []model.RunEvent{uc.scheduleStallRetry(run, idle)}, nil
				}
				return []model.RunEvent{uc.failStalled(run, idle)}, nil
			})
			if merr == nil && !relaunch {
				return errNoLaunch
			}
			return merr
		})
		if errors.Is(err, errNoLaunch) {
			err = nil
		}
		if err != nil {
			uc.log.Error().Err(err).Str("run_id", r.ID).Msg("recover stalled run")
			continue
		}
		if !changed {
			continue
		}
		recovered++
		if relaunch {
			metrics.IncWatchdogRecovery("retried")
		} else {
			metrics.IncWatchdogRecovery("failed")
			metrics.IncRunSettled(string(updated.Status()))
			uc.cancel(r.ID)
		}
		uc.log.Warn().
			Str("run_id", r.ID).
			Str("from", string(r.RunState)).
			Str("to", string(updated.RunState)).
			Int("attempt", updated.Attempts.Current).
			Msg("stalled run recovered")
	}
	return recovered, nil
}

func (uc *taskUC) scheduleStallRetry(run *model.TaskRun, idle time.Duration) model.RunEvent {
	from := run.RunState
	// the step in flight is redone; outcomes already recorded stand
	resetSteps(run, model.StepStatusRunning)
	run.Attempts.Current++
	run.RunState = model.RunStateRetrying
	run.Diagnostics.Note(fmt.Sprintf("stalled for %s in %s; retry %d/%d scheduled", idle, from, run.Attempts.Current, run.Attempts.Max))
	return uc.store.event(run.ID, model.EventRunRetryScheduled, from, model.RunStateRetrying, map[string]any{
		"attempt": run.Attempts.Current,
		"reason":  "stalled",
	})
}

func (uc *taskUC) failStalled(run *model.TaskRun, idle time.Duration) model.RunEvent {
	from := run.RunState
	for i := range run.Plan {
		if st := &run.Plan[i]; st.Status == model.StepStatusPending || st.Status == model.StepStatusRunning {
			st.Status = model.StepStatusSkipped
		}
	}
	run.Diagnostics.Failure(fmt.Sprintf("stalled: no progress for %s in %s after %d attempts", idle, from, run.Attempts.Current))
	run.RunState = model.RunStateFailed
	return uc.store.event(run.ID, model.EventRunFailed, from, model.RunStateFailed, map[string]any{
		"reason": "stalled",
		"status": run.Status(),
	})
}

// ResumeInterrupted relaunches runs that were executing when the previous
// process stopped.
func (uc *taskUC) ResumeInterrupted(ctx context.Context) (int, error) {
	runs, err := uc.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range runs {
		if r.RunState.IsStallable() {
			uc.launch(r.ID, true)
			n++
		}
	}
	if n > 0 {
		uc.log.Info().Int("count", n).Msg("resumed interrupted runs")
	}
	return n, nil
}

// launch starts an execution of the run unless one is already active. force
// replaces the active execution.
func (uc *taskUC) launch(runID string, force bool) {
	err := uc.launchWith(runID, force, func(execID string) error {
		_, err := uc.store.Mutate(uc.base, runID, func(run *model.TaskRun) ([]model.RunEvent, error) {
			run.ExecutionID = execID
			return nil, nil
		})
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrQueueStopped) {
		uc.log.Error().Err(err).Str("run_id", runID).Msg("stamp execution")
	}
}

// errNoLaunch lets a claim commit its write without starting an execution.
var errNoLaunch = errors.New("no launch")

// launchWith mints the next execution id and passes it to claim, which must
// persist it on the run. The execution starts only when claim succeeds; any
// execution it replaces is cancelled after that write.
func (uc *taskUC) launchWith(runID string, force bool, claim func(execID string) error) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.closed {
		return domain.ErrQueueStopped
	}
	cur, busy := uc.active[runID]
	if busy && !force {
		return nil
	}

	execID := uc.newID()
	if err := claim(execID); err != nil {
		return err
	}
	if busy {
		cur.cancel()
		delete(uc.active, runID)
	}

	ctx, cancel := context.WithCancel(uc.base)
	ex := &execution{id: execID, cancel: cancel}
	uc.active[runID] = ex
	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		err := uc.executor.Run(ctx, runID, execID)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, domain.ErrStaleExecution) {
			uc.log.Error().Err(err).Str("run_id", runID).Msg("execution ended with error")
		}

		uc.mu.Lock()
		current := uc.active[runID] == ex
		if current {
			delete(uc.active, runID)
		}
		uc.mu.Unlock()
		if !current || err != nil {
			return
		}
		// a resume may have landed after the loop saw the pause
		run, gerr := uc.store.Get(uc.base, runID)
		if gerr == nil && run.ExecutionID == execID &&
			(run.RunState == model.RunStateRunning || run.RunState == model.RunStateRetrying) {
			uc.launch(runID, false)
		}
	}()
	return nil
}

func (uc *taskUC) cancel(runID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if ex, ok := uc.active[runID]; ok {
		ex.cancel()
		delete(uc.active, runID)
	}
}

// Close cancels every execution and waits for them to return. Runs are left
// in their current state for ResumeInterrupted.
func (uc *taskUC) Close() {
	uc.mu.Lock()
	uc.closed = true
	uc.mu.Unlock()
	uc.stop()
	uc.wg.Wait()
}
