package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		capabilityCallsLatencyMs,
		capabilityFallbacksTotal,
		capabilityCircuitOpenTotal,
	)
}

var (
	capabilityCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capability_calls_latency_ms",
			Help:    "Capability call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000, 180000},
		},
		[]string{"capability", "backend", "success"},
	)

	capabilityFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_fallbacks_total",
			Help: "Capability calls answered by a fallback path.",
		},
		[]string{"capability", "backend"},
	)

	capabilityCircuitOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_circuit_rejections_total",
			Help: "Calls rejected because the provider's circuit was open.",
		},
		[]string{"backend"},
	)
)

func ObserveCapabilityCall(capability, backend string, latency time.Duration, success bool) {
	capabilityCallsLatencyMs.WithLabelValues(norm(capability), norm(backend), strconv.FormatBool(success)).
		Observe(float64(latency / time.Millisecond))
}

func IncCapabilityFallback(capability, backend string) {
	capabilityFallbacksTotal.WithLabelValues(norm(capability), norm(backend)).Inc()
}

func IncCircuitRejection(backend string) {
	capabilityCircuitOpenTotal.WithLabelValues(norm(backend)).Inc()
}
