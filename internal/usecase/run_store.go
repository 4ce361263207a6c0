package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/domain"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/domain/ports/repository"
	"task-orchestrator/internal/infra/logging"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const runLockStripes = 64

// errUnchanged lets a Mutate callback skip the write.
var errUnchanged = errors.New("unchanged")

// RunStore is the only writer of TaskRun records. Every change goes through
// Mutate, which serializes updates per run and persists the record together
// with its events.
type RunStore struct {
	repo      repository.TaskRunRepository
	clock     clock.Clock
	notifiers []adapter.EventNotifier
	log       *zerolog.Logger

	NewID func() string

	locks [runLockStripes]sync.Mutex

	wmu      sync.Mutex
	watchers map[string][]chan struct{}
}

func NewRunStore(repo repository.TaskRunRepository, clk clock.Clock, logger *zerolog.Logger, notifiers ...adapter.EventNotifier) *RunStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RunStore{
		repo:      repo,
		clock:     clk,
		notifiers: notifiers,
		log:       logging.Component(logger, "RunStore"),
		NewID:     func() string { return ulid.Make().String() },
		watchers:  make(map[string][]chan struct{}),
	}
}

func (s *RunStore) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%runLockStripes]
}

// Create stores a new run. A run without intent is stored in its terminal
// no-match state.
func (s *RunStore) Create(ctx context.Context, run *model.TaskRun) (*model.TaskRun, error) {
	if run == nil || run.ID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrInvalidArgument)
	}
	if err := model.ValidateRunState(run.RunState); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	run.CreatedAt, run.UpdatedAt = now, now

	events := []model.RunEvent{s.event(run.ID, model.EventRunCreated, "", run.RunState, map[string]any{
		"task":   run.Task,
		"steps":  len(run.Plan),
		"dryRun": run.DryRun,
	})}
	if run.RunState == model.RunStateNoMatch {
		events = append(events, s.event(run.ID, model.EventRunNoMatch, "", model.RunStateNoMatch, nil))
	}

	mu := s.lock(run.ID)
	mu.Lock()
	err := s.repo.Create(ctx, run, events...)
	mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.published(run, events)
	return run.Clone(), nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*model.TaskRun, error) {
	return s.repo.Get(ctx, id)
}

func (s *RunStore) List(ctx context.Context) ([]*model.TaskRun, error) {
	return s.repo.List(ctx)
}

func (s *RunStore) Events(ctx context.Context, id string) ([]model.RunEvent, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, id)
}

// Mutate loads the run, applies fn and persists the result with the events fn
// returns. fn runs under the run's lock and sees a private copy; returning an
// error aborts without writing.
func (s *RunStore) Mutate(ctx context.Context, id string, fn func(run *model.TaskRun) ([]model.RunEvent, error)) (*model.TaskRun, error) {
	mu := s.lock(id)
	mu.Lock()

	run, err := s.repo.Get(ctx, id)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	events, err := fn(run)
	if errors.Is(err, errUnchanged) {
		mu.Unlock()
		return run, nil
	}
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	now := s.clock.Now()
	run.Touch(now)
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = s.NewID()
		}
		events[i].RunID = run.ID
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = now
		}
	}
	if err := s.repo.Update(ctx, run, events...); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("update run %s: %w", id, err)
	}
	mu.Unlock()

	s.published(run, events)
	return run.Clone(), nil
}

// Pause stops a running run at its next step boundary.
func (s *RunStore) Pause(ctx context.Context, id string) (*model.TaskRun, error) {
	return s.Mutate(ctx, id, func(run *model.TaskRun) ([]model.RunEvent, error) {
		ev, err := s.transition(run, model.RunStatePaused, model.EventRunPaused, map[string]any{"checkpoint": run.Checkpoint})
		if err != nil {
			return nil, err
		}
		return []model.RunEvent{ev}, nil
	})
}

// Resume returns a paused run to running; execution continues from its
// checkpoint.
func (s *RunStore) Resume(ctx context.Context, id string) (*model.TaskRun, error) {
	return s.Mutate(ctx, id, func(run *model.TaskRun) ([]model.RunEvent, error) {
		if run.RunState != model.RunStatePaused {
			return nil, fmt.Errorf("%w: cannot resume a %s run", domain.ErrInvalidTransition, run.RunState)
		}
		ev, err := s.transition(run, model.RunStateRunning, model.EventRunResumed, map[string]any{"checkpoint": run.Checkpoint})
		if err != nil {
			return nil, err
		}
		return []model.RunEvent{ev}, nil
	})
}

// Retry schedules another attempt of the failed and skipped steps. Succeeded
// steps keep their outputs.
func (s *RunStore) Retry(ctx context.Context, id string, reason string) (*model.TaskRun, error) {
	return s.RetryAs(ctx, id, reason, "")
}

// RetryAs is Retry that also hands the run to execution execID in the same
// write, so the execution it replaces is fenced out from that point on.
func (s *RunStore) RetryAs(ctx context.Context, id, reason, execID string) (*model.TaskRun, error) {
	return s.Mutate(ctx, id, func(run *model.TaskRun) ([]model.RunEvent, error) {
		if run.RunState == model.RunStateNoMatch {
			return nil, fmt.Errorf("%w: no-match runs cannot be retried", domain.ErrInvalidTransition)
		}
		if !run.HasRetryableSteps() {
			return nil, fmt.Errorf("%w: run %s", domain.ErrNothingToRetry, run.ID)
		}
		if !run.Attempts.Remaining() {
			return nil, fmt.Errorf("%w: %d/%d", domain.ErrAttemptsExhausted, run.Attempts.Current, run.Attempts.Max)
		}
		from := run.RunState
		if err := model.ValidateRunTransition(from, model.RunStateRetrying); err != nil {
			return nil, err
		}
		reset := resetSteps(run, model.StepStatusFailed, model.StepStatusSkipped)
		recomputeDiagnostics(run)
		run.Verification = model.Verification{}
		run.Attempts.Current++
		run.RunState = model.RunStateRetrying
		if execID != "" {
			run.ExecutionID = execID
		}
		run.Diagnostics.Note(fmt.Sprintf("retry %d/%d scheduled (%s)", run.Attempts.Current, run.Attempts.Max, reason))
		return []model.RunEvent{s.event(run.ID, model.EventRunRetryScheduled, from, model.RunStateRetrying, map[string]any{
			"attempt": run.Attempts.Current,
			"steps":   reset,
			"reason":  reason,
		})}, nil
	})
}

// Watch returns a channel signalled after every persisted change to the run.
// The returned func releases the watch.
func (s *RunStore) Watch(id string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.wmu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	s.wmu.Unlock()
	return ch, func() {
		s.wmu.Lock()
		defer s.wmu.Unlock()
		list := s.watchers[id]
		for i, c := range list {
			if c == ch {
				s.watchers[id] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[id]) == 0 {
			delete(s.watchers, id)
		}
	}
}

func (s *RunStore) published(run *model.TaskRun, events []model.RunEvent) {
	s.wmu.Lock()
	for _, ch := range s.watchers[run.ID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.wmu.Unlock()

	if len(s.notifiers) == 0 || len(events) == 0 {
		return
	}
	snapshot := run.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, ev := range events {
			for _, n := range s.notifiers {
				if err := n.Notify(ctx, snapshot, ev); err != nil {
					s.log.Warn().Err(err).Str("run_id", ev.RunID).Str("event", string(ev.Type)).Msg("notify failed")
				}
			}
		}
	}()
}

// transition moves run to state and returns the matching event.
func (s *RunStore) transition(run *model.TaskRun, to model.RunState, typ model.RunEventType, data map[string]any) (model.RunEvent, error) {
	from := run.RunState
	if err := model.ValidateRunTransition(from, to); err != nil {
		return model.RunEvent{}, err
	}
	run.RunState = to
	return s.event(run.ID, typ, from, to, data), nil
}

func (s *RunStore) event(runID string, typ model.RunEventType, from, to model.RunState, data map[string]any) model.RunEvent {
	return model.RunEvent{
		ID:        s.NewID(),
		Type:      typ,
		RunID:     runID,
		Timestamp: s.clock.Now(),
		From:      from,
		To:        to,
		Data:      data,
	}
}

// resetSteps puts steps in the given states back to pending and rewinds the
// checkpoint to the first of them. It returns the reset indexes.
func resetSteps(run *model.TaskRun, states ...model.StepStatus) []int {
	var reset []int
	for i := range run.Plan {
		st := &run.Plan[i]
		for _, s := range states {
			if st.Status == s {
				st.Status = model.StepStatusPending
				st.Error = ""
				st.Output = nil
				st.Fallback = false
				st.JobID = ""
				reset = append(reset, i)
				break
			}
		}
	}
	if len(reset) > 0 {
		run.Checkpoint = reset[0]
	}
	return reset
}

// recomputeDiagnostics drops failures of steps about to be retried and
// re-derives degradation from the steps that keep their outputs.
func recomputeDiagnostics(run *model.TaskRun) {
	run.Diagnostics.Failures = nil
	run.Diagnostics.Degraded = false
	for _, st := range run.Plan {
		if st.Status == model.StepStatusSucceeded && st.Fallback {
			run.Diagnostics.Degraded = true
		}
	}
}
