package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/infra/logging"
)

type fakeRecoverer struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
}

func (f *fakeRecoverer) RecoverStalled(ctx context.Context, staleBefore time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, staleBefore)
	return f.n, f.err
}

func (f *fakeRecoverer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestWatchdog_SweepUsesInjectedClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	rec := &fakeRecoverer{n: 2}
	w := NewWatchdog(rec, clk, time.Minute, 5*time.Minute, logging.Nop())

	if got := w.Sweep(context.Background()); got != 2 {
		t.Fatalf("expected 2 recovered, got %d", got)
	}
	clk.Advance(time.Hour)
	w.Sweep(context.Background())

	if !rec.cutoffs[0].Equal(start.Add(-5 * time.Minute)) {
		t.Fatalf("unexpected first cutoff %v", rec.cutoffs[0])
	}
	if !rec.cutoffs[1].Equal(start.Add(55 * time.Minute)) {
		t.Fatalf("unexpected second cutoff %v", rec.cutoffs[1])
	}
}

func TestWatchdog_SweepErrorIsLogged(t *testing.T) {
	t.Parallel()

	rec := &fakeRecoverer{err: errors.New("store down")}
	w := NewWatchdog(rec, nil, time.Minute, time.Minute, logging.Nop())
	if got := w.Sweep(context.Background()); got != 0 {
		t.Fatalf("expected 0 on error, got %d", got)
	}
}

func TestWatchdog_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	rec := &fakeRecoverer{}
	w := NewWatchdog(rec, nil, 5*time.Millisecond, time.Minute, logging.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rec.calls() < 2 {
		t.Fatal("watchdog did not sweep periodically")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}

type fakeLock struct {
	held     bool
	released []string
}

func (l *fakeLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.held {
		return "", errors.New("held")
	}
	l.held = true
	return "tok", nil
}

func (l *fakeLock) Unlock(ctx context.Context, key, token string) error {
	l.held = false
	l.released = append(l.released, token)
	return nil
}

func TestWatchdog_SweepHonoursLock(t *testing.T) {
	t.Parallel()

	rec := &fakeRecoverer{n: 1}
	lock := &fakeLock{}
	w := NewWatchdog(rec, nil, time.Minute, time.Minute, logging.Nop()).WithLock(lock)

	if got := w.Sweep(context.Background()); got != 1 {
		t.Fatalf("expected 1 recovered, got %d", got)
	}
	if lock.held || len(lock.released) != 1 {
		t.Fatalf("lock not released after sweep: %+v", lock)
	}

	lock.held = true // another replica
	if got := w.Sweep(context.Background()); got != 0 {
		t.Fatalf("expected skipped sweep, got %d", got)
	}
	if rec.calls() != 1 {
		t.Fatalf("recoverer called without the lock: %d calls", rec.calls())
	}
}
