package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// JobRunner is the slice of the job queue the executor needs for slow
// capabilities.
type JobRunner interface {
	Submit(ctx context.Context, jobType string, payload json.RawMessage, maxAttempts int) (string, error)
	Await(ctx context.Context, id string) (*model.Job, error)
}

type ExecutorConfig struct {
	CallTimeout    time.Duration // direct capability calls
	StepWait       time.Duration // delegated job budget per step
	JobMaxAttempts int
}

// Executor walks a run's plan one step at a time. All record changes go
// through the RunStore and are fenced by the execution id the run was
// launched with.
type Executor struct {
	store    *RunStore
	registry adapter.CapabilityRegistry
	jobs     JobRunner
	verifier *Verifier
	cfg      ExecutorConfig
	log      *zerolog.Logger
}

func NewExecutor(store *RunStore, registry adapter.CapabilityRegistry, jobs JobRunner, verifier *Verifier, cfg ExecutorConfig, logger *zerolog.Logger) *Executor {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Minute
	}
	if cfg.StepWait <= 0 {
		cfg.StepWait = 5 * time.Minute
	}
	if verifier == nil {
		verifier = NewVerifier()
	}
	return &Executor{
		store:    store,
		registry: registry,
		jobs:     jobs,
		verifier: verifier,
		cfg:      cfg,
		log:      logging.Component(logger, "Executor"),
	}
}

// errStop ends the step loop without error (paused, settled or nothing left).
var errStop = errors.New("stop")

// Run executes the run's remaining steps. It returns nil when the run settles
// or stops at a pause boundary, ErrStaleExecution when another execution took
// over, and ctx.Err() when cancelled.
func (e *Executor) Run(ctx context.Context, runID, execID string) error {
	ctx = logging.WithRunID(ctx, runID)
	log := logging.With(ctx, e.log)

	if err := e.start(ctx, runID, execID); err != nil {
		if errors.Is(err, errStop) {
			return nil
		}
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		run, idx, err := e.beginStep(ctx, runID, execID)
		if errors.Is(err, errStop) {
			log.Debug().Msg("execution stopped at step boundary")
			return nil
		}
		if err != nil {
			return err
		}
		if idx < 0 {
			return e.finish(ctx, runID, execID)
		}

		step := run.Plan[idx]
		started := time.Now()
		res, callErr := e.execute(ctx, run, step, execID)
		if ctx.Err() != nil {
			// superseded or shutting down: the next execution redoes this step
			return ctx.Err()
		}
		log.Info().
			Int("step", idx).
			Str("capability", string(step.Capability)).
			Bool("ok", callErr == nil).
			Dur("took", time.Since(started)).
			Msg("step finished")

		stopped, err := e.recordStep(ctx, runID, execID, idx, res, callErr)
		if err != nil {
			return err
		}
		if stopped {
			return nil
		}
	}
}

func fence(run *model.TaskRun, execID string) error {
	if run.ExecutionID != execID {
		return fmt.Errorf("%w: run %s now owned by %s", domain.ErrStaleExecution, run.ID, run.ExecutionID)
	}
	return nil
}

// start moves a planned or retrying run to running.
func (e *Executor) start(ctx context.Context, runID, execID string) error {
	_, err := e.store.Mutate(ctx, runID, func(run *model.TaskRun) ([]model.RunEvent, error) {
		if err := fence(run, execID); err != nil {
			return nil, err
		}
		switch run.RunState {
		case model.RunStateRunning:
			return nil, errUnchanged
		case model.RunStatePlanned, model.RunStateRetrying:
			ev, err := e.store.transition(run, model.RunStateRunning, model.EventRunStarted, map[string]any{
				"attempt":    run.Attempts.Current,
				"checkpoint": run.Checkpoint,
			})
			if err != nil {
				return nil, err
			}
			return []model.RunEvent{ev}, nil
		default:
			return nil, errStop
		}
	})
	return err
}

// beginStep marks the next unfinished step running. idx is -1 when every
// step has an outcome.
func (e *Executor) beginStep(ctx context.Context, runID, execID string) (*model.TaskRun, int, error) {
	idx := -1
	run, err := e.store.Mutate(ctx, runID, func(run *model.TaskRun) ([]model.RunEvent, error) {
		if err := fence(run, execID); err != nil {
			return nil, err
		}
		if run.RunState != model.RunStateRunning {
			return nil, errStop
		}
		for i, st := range run.Plan {
			if st.Status == model.StepStatusPending || st.Status == model.StepStatusRunning {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, errUnchanged
		}
		st := &run.Plan[idx]
		st.Status = model.StepStatusRunning
		st.Attempts++
		run.Checkpoint = idx
		return nil, nil
	})
	if err != nil {
		return nil, -1, err
	}
	return run, idx, nil
}

func (e *Executor) execute(ctx context.Context, run *model.TaskRun, step model.PlanStep, execID string) (adapter.CapabilityResult, error) {
	if run.DryRun {
		out, err := json.Marshal(dryRunOutput(step))
		return adapter.CapabilityResult{Output: out, Backend: "dry-run"}, err
	}
	if isSlow(step.Capability) && e.jobs != nil {
		return e.viaJob(ctx, run, step, execID)
	}

	provider, ok := e.registry.Lookup(step.Capability)
	if !ok {
		return adapter.CapabilityResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownCapability, step.Capability)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	res, err := provider.Invoke(callCtx, adapter.CapabilityRequest{
		Capability: step.Capability,
		RunID:      run.ID,
		StepIndex:  step.Index,
		Input:      step.Input,
	})
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("call timed out after %s: %w", e.cfg.CallTimeout, err)
	}
	return res, err
}

func isSlow(c model.Capability) bool {
	return c == model.CapabilityImage || c == model.CapabilityVideo
}

// viaJob delegates the step to the job queue and waits for the job up to the
// step budget. The run keeps only the job id.
func (e *Executor) viaJob(ctx context.Context, run *model.TaskRun, step model.PlanStep, execID string) (adapter.CapabilityResult, error) {
	payload, err := json.Marshal(step.Input)
	if err != nil {
		return adapter.CapabilityResult{}, adapter.Permanent(err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.StepWait)
	defer cancel()
	jobID, err := e.submitJob(ctx, waitCtx, string(step.Capability), payload)
	if err != nil {
		return adapter.CapabilityResult{}, fmt.Errorf("submit job: %w", err)
	}
	if _, err := e.store.Mutate(ctx, run.ID, func(r *model.TaskRun) ([]model.RunEvent, error) {
		if err := fence(r, execID); err != nil {
			return nil, err
		}
		r.Plan[step.Index].JobID = jobID
		return nil, nil
	}); err != nil {
		return adapter.CapabilityResult{}, err
	}

	job, err := e.jobs.Await(waitCtx, jobID)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return adapter.CapabilityResult{}, fmt.Errorf("job %s not finished within %s", jobID, e.cfg.StepWait)
		}
		return adapter.CapabilityResult{}, err
	}
	if job.Status != model.JobStatusSucceeded {
		return adapter.CapabilityResult{}, fmt.Errorf("job %s %s after %d attempts: %s", jobID, job.Status, job.Attempts.Current, job.Error)
	}
	var res adapter.CapabilityResult
	if err := json.Unmarshal(job.Result, &res); err != nil {
		return adapter.CapabilityResult{}, fmt.Errorf("decode job %s result: %w", jobID, err)
	}
	return res, nil
}

const (
	queueFullBackoff    = 50 * time.Millisecond
	maxQueueFullBackoff = time.Second
)

// submitJob resubmits while the queue backlog is full, until budget is done.
func (e *Executor) submitJob(ctx, budget context.Context, jobType string, payload json.RawMessage) (string, error) {
	delay := queueFullBackoff
	for {
		id, err := e.jobs.Submit(ctx, jobType, payload, e.cfg.JobMaxAttempts)
		if !errors.Is(err, domain.ErrQueueFull) {
			return id, err
		}
		logging.With(ctx, e.log).Warn().Str("type", jobType).Dur("backoff", delay).Msg("job queue full; resubmitting")
		t := time.NewTimer(delay)
		select {
		case <-budget.Done():
			t.Stop()
			return "", adapter.Transient(err)
		case <-t.C:
		}
		if delay *= 2; delay > maxQueueFullBackoff {
			delay = maxQueueFullBackoff
		}
	}
}

// recordStep stores a step outcome. A failed required step ends the run.
func (e *Executor) recordStep(ctx context.Context, runID, execID string, idx int, res adapter.CapabilityResult, callErr error) (bool, error) {
	stopped := false
	var settled *model.TaskRun
	// outcomes must land even if ctx is cancelled right after the call
	_, err := e.store.Mutate(context.WithoutCancel(ctx), runID, func(run *model.TaskRun) ([]model.RunEvent, error) {
		if err := fence(run, execID); err != nil {
			return nil, err
		}
		st := &run.Plan[idx]
		data := map[string]any{"index": idx, "capability": st.Capability}

		if callErr == nil {
			st.Status = model.StepStatusSucceeded
			st.Output = res.Output
			st.Fallback = res.Fallback
			st.Error = ""
			if res.Fallback {
				run.Diagnostics.Degraded = true
				run.Diagnostics.Note(fmt.Sprintf("step %d (%s) used fallback backend %s", idx, st.Capability, res.Backend))
			}
			data["status"] = st.Status
			data["fallback"] = res.Fallback
			run.Checkpoint = idx + 1
			return []model.RunEvent{e.store.event(run.ID, model.EventRunStepFinished, "", "", data)}, nil
		}

		st.Status = model.StepStatusFailed
		st.Error = callErr.Error()
		run.Diagnostics.Failure(fmt.Sprintf("step %d (%s): %v", idx, st.Capability, callErr))
		data["status"] = st.Status
		data["error"] = st.Error
		events := []model.RunEvent{e.store.event(run.ID, model.EventRunStepFinished, "", "", data)}
		if !st.Required {
			run.Checkpoint = idx + 1
			return events, nil
		}

		for i := idx + 1; i < len(run.Plan); i++ {
			if run.Plan[i].Status == model.StepStatusPending {
				run.Plan[i].Status = model.StepStatusSkipped
			}
		}
		run.Verification = e.verifier.Verify(run.Plan, run.Diagnostics, run.Intent)
		// a pause requested during the call still ends in failed
		ev, err := e.store.transition(run, model.RunStateFailed, model.EventRunFailed, nil)
		if err != nil {
			return nil, err
		}
		ev.Data = map[string]any{
			"reason": fmt.Sprintf("required step %d failed", idx),
			"status": run.Status(),
		}
		events = append(events, ev)
		stopped = true
		settled = run
		return events, nil
	})
	if err != nil {
		return false, err
	}
	if settled != nil {
		metrics.IncRunSettled(string(settled.Status()))
	}
	return stopped, nil
}

// finish scores the plan and settles the run.
func (e *Executor) finish(ctx context.Context, runID, execID string) error {
	run, err := e.store.Mutate(ctx, runID, func(run *model.TaskRun) ([]model.RunEvent, error) {
		if err := fence(run, execID); err != nil {
			return nil, err
		}
		if run.RunState != model.RunStateRunning {
			return nil, errStop
		}
		run.Verification = e.verifier.Verify(run.Plan, run.Diagnostics, run.Intent)
		to := e.verifier.SettledState(run.Plan, run.Diagnostics)
		typ := model.EventRunCompleted
		if to == model.RunStateFailed {
			typ = model.EventRunFailed
		}
		ev, err := e.store.transition(run, to, typ, nil)
		if err != nil {
			return nil, err
		}
		ev.Data = map[string]any{
			"status":     run.Status(),
			"confidence": run.Verification.Confidence,
		}
		return []model.RunEvent{ev}, nil
	})
	if errors.Is(err, errStop) {
		return nil
	}
	if err != nil {
		return err
	}
	metrics.IncRunSettled(string(run.Status()))
	logging.With(ctx, e.log).Info().
		Str("status", string(run.Status())).
		Float64("confidence", run.Verification.Confidence).
		Msg("run settled")
	return nil
}
