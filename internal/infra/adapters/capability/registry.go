package capability

import (
	"context"
	"errors"
	"fmt"

	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.CapabilityRegistry = (*Registry)(nil)

// Registry maps each capability to the provider that serves it.
type Registry struct {
	byCapability map[model.Capability]adapter.CapabilityProvider
}

func NewRegistry() *Registry {
	return &Registry{byCapability: make(map[model.Capability]adapter.CapabilityProvider)}
}

// Register binds p to c, replacing any earlier binding.
func (r *Registry) Register(c model.Capability, p adapter.CapabilityProvider) *Registry {
	if p != nil && c.Valid() {
		r.byCapability[c] = p
	}
	return r
}

func (r *Registry) Lookup(c model.Capability) (adapter.CapabilityProvider, bool) {
	p, ok := r.byCapability[c]
	return p, ok
}

// Chain tries providers in order. A transient failure moves on to the next
// one; a permanent failure stops the chain. Results from any provider but the
// first are marked as fallback.
type Chain struct {
	providers []adapter.CapabilityProvider
}

func NewChain(providers ...adapter.CapabilityProvider) adapter.CapabilityProvider {
	live := make([]adapter.CapabilityProvider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			live = append(live, p)
		}
	}
	if len(live) == 1 {
		return live[0]
	}
	return &Chain{providers: live}
}

func (c *Chain) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	if len(c.providers) == 0 {
		return adapter.CapabilityResult{}, adapter.Permanent(fmt.Errorf("no provider for %s", req.Capability))
	}
	var errs []error
	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := p.Invoke(ctx, req)
		if err == nil {
			if i > 0 {
				res.Fallback = true
			}
			return res, nil
		}
		errs = append(errs, err)
		if !adapter.IsTransient(err) {
			break
		}
	}
	return adapter.CapabilityResult{}, errors.Join(errs...)
}
