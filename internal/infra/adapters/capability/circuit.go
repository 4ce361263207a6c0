package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/metrics"
)

var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreaker opens after threshold consecutive transient failures and
// rejects calls until cooldown passes. Then a single trial call is let through:
// success closes the circuit, failure opens it for another cooldown.
type CircuitBreaker struct {
	inner     adapter.CapabilityProvider
	name      string
	threshold int
	cooldown  time.Duration
	clock     clock.Clock

	mu        sync.Mutex
	failures  int
	openUntil time.Time
	probing   bool
}

func NewCircuitBreaker(name string, inner adapter.CapabilityProvider, threshold int, cooldown time.Duration, clk clock.Clock) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &CircuitBreaker{inner: inner, name: name, threshold: threshold, cooldown: cooldown, clock: clk}
}

func (b *CircuitBreaker) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	if !b.admit() {
		metrics.IncCircuitRejection(b.name)
		return adapter.CapabilityResult{}, adapter.Transient(fmt.Errorf("%s: %w", b.name, ErrCircuitOpen))
	}
	res, err := b.inner.Invoke(ctx, req)
	b.record(err)
	return res, err
}

// Open reports whether calls are currently rejected.
func (b *CircuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock.Now().Before(b.openUntil) || b.probing
}

func (b *CircuitBreaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	if b.clock.Now().Before(b.openUntil) || b.probing {
		return false
	}
	b.probing = true
	return true
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil || !adapter.IsTransient(err) {
		b.failures = 0
		b.openUntil = time.Time{}
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.clock.Now().Add(b.cooldown)
	}
}
