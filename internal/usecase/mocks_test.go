package usecase

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/db/memory"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/worker"
)

// spyProvider records every call. fn, when set, decides the outcome.
type spyProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error)
}

func (s *spyProvider) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	n := s.calls.Add(1)
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	out, _ := json.Marshal(map[string]any{"capability": req.Capability, "call": n})
	return adapter.CapabilityResult{Output: out, Backend: "spy"}, nil
}

type spyRegistry map[model.Capability]*spyProvider

func newSpies() spyRegistry {
	r := spyRegistry{}
	for _, c := range model.Capabilities {
		r[c] = &spyProvider{}
	}
	return r
}

func (r spyRegistry) Lookup(c model.Capability) (adapter.CapabilityProvider, bool) {
	p, ok := r[c]
	return p, ok
}

func (r spyRegistry) total() int {
	n := 0
	for _, p := range r {
		n += int(p.calls.Load())
	}
	return n
}

type harness struct {
	uc    *taskUC
	store *RunStore
	queue *worker.JobQueue
	repo  *memory.TaskRunRepo
	clock *clock.Manual
	spies spyRegistry
}

func newHarness(t *testing.T, spies spyRegistry) *harness {
	t.Helper()
	log := logging.Nop()
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	queue := worker.NewJobQueue(memory.NewJobRepo(), spies, worker.NewPool(4, 64, log), clk, worker.JobQueueConfig{
		AttemptTimeout: time.Second,
		MaxAttempts:    3,
		Backoff:        time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, log)
	queue.After = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("queue start: %v", err)
	}
	t.Cleanup(queue.Stop)

	repo := memory.NewTaskRunRepo()
	store := NewRunStore(repo, clk, log)
	exec := NewExecutor(store, spies, queue, NewVerifier(), ExecutorConfig{
		CallTimeout:    time.Second,
		StepWait:       5 * time.Second,
		JobMaxAttempts: 3,
	}, log)
	uc := NewTaskUseCase(NewIntentResolver(), NewPlanner(), exec, store, clk, TaskConfig{
		DefaultWait:    5 * time.Second,
		MaxWait:        10 * time.Second,
		RunMaxAttempts: 3,
	}, log)
	t.Cleanup(uc.Close)

	return &harness{uc: uc, store: store, queue: queue, repo: repo, clock: clk, spies: spies}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitState(t *testing.T, id string, states ...model.RunState) *model.TaskRun {
	t.Helper()
	var last *model.TaskRun
	eventually(t, "run "+id+" to reach "+joinStates(states), func() bool {
		r, err := h.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = r
		for _, s := range states {
			if r.RunState == s {
				return true
			}
		}
		return false
	})
	return last
}

func joinStates(states []model.RunState) string {
	s := ""
	for i, st := range states {
		if i > 0 {
			s += "|"
		}
		s += string(st)
	}
	return s
}

// gate blocks providers until released.
type gate struct{ ch chan struct{} }

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) release() { close(g.ch) }

func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
