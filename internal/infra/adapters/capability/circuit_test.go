package capability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/adapters/capability"
)

func TestCircuitBreaker_OpensCoolsDownAndProbes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := adapter.CapabilityRequest{Capability: model.CapabilityImage}
	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	inner := &stubProvider{name: "local", err: adapter.Transient(errors.New("connection refused"))}
	b := capability.NewCircuitBreaker("local", inner, 3, 30*time.Second, clk)

	for i := 0; i < 3; i++ {
		_, _ = b.Invoke(ctx, req)
	}
	if !b.Open() {
		t.Fatal("expected circuit open after 3 transient failures")
	}
	_, err := b.Invoke(ctx, req)
	if !errors.Is(err, capability.ErrCircuitOpen) || !adapter.IsTransient(err) {
		t.Fatalf("expected transient ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("open circuit must not call inner, calls=%d", inner.calls)
	}

	// failed trial call re-opens
	clk.Advance(31 * time.Second)
	_, _ = b.Invoke(ctx, req)
	if inner.calls != 4 || !b.Open() {
		t.Fatalf("expected one trial call then open, calls=%d open=%v", inner.calls, b.Open())
	}

	// successful trial call closes
	clk.Advance(31 * time.Second)
	inner.err = nil
	if _, err := b.Invoke(ctx, req); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.Open() {
		t.Fatal("expected circuit closed after successful trial call")
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	inner := &stubProvider{err: adapter.Permanent(errors.New("bad prompt"))}
	b := capability.NewCircuitBreaker("x", inner, 2, time.Minute, nil)
	for i := 0; i < 5; i++ {
		_, _ = b.Invoke(context.Background(), adapter.CapabilityRequest{})
	}
	if b.Open() || inner.calls != 5 {
		t.Fatalf("permanent errors tripped the circuit: open=%v calls=%d", b.Open(), inner.calls)
	}
}
