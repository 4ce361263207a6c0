package capability

import (
	"context"

	"task-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.CapabilityProvider = (*limited)(nil)

type limited struct {
	inner adapter.CapabilityProvider
	sem   chan struct{}
}

// NewLimited caps concurrent calls into inner. Callers waiting for a slot
// give up when ctx ends.
func NewLimited(inner adapter.CapabilityProvider, maxConcurrent int) adapter.CapabilityProvider {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limited{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limited) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.CapabilityResult{}, adapter.Transient(ctx.Err())
	}
	defer func() { <-l.sem }()
	return l.inner.Invoke(ctx, req)
}
