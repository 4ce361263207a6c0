package capability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/logging"
	"task-orchestrator/internal/infra/metrics"
)

type instrumented struct {
	inner   adapter.CapabilityProvider
	backend string
	log     *zerolog.Logger
}

// NewInstrumented records latency, outcome and fallbacks of every call.
func NewInstrumented(backend string, inner adapter.CapabilityProvider, logger *zerolog.Logger) adapter.CapabilityProvider {
	return &instrumented{inner: inner, backend: backend, log: logging.Component(logger, "Capability")}
}

func (i *instrumented) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	start := time.Now()
	res, err := i.inner.Invoke(ctx, req)
	elapsed := time.Since(start)
	metrics.ObserveCapabilityCall(string(req.Capability), i.backend, elapsed, err == nil)

	l := logging.With(ctx, i.log)
	if err != nil {
		l.Warn().Err(err).
			Str("capability", string(req.Capability)).
			Str("backend", i.backend).
			Bool("transient", adapter.IsTransient(err)).
			Dur("latency", elapsed).
			Msg("capability call failed")
		return res, err
	}
	if res.Fallback {
		metrics.IncCapabilityFallback(string(req.Capability), i.backend)
	}
	l.Debug().
		Str("capability", string(req.Capability)).
		Str("backend", i.backend).
		Bool("fallback", res.Fallback).
		Dur("latency", elapsed).
		Msg("capability call")
	return res, nil
}
