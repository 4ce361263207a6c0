package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(runsSubmittedTotal, runsSettledTotal, runControlTotal, watchdogRecoveriesTotal) }

var (
	runsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_runs_submitted_total",
			Help: "Task runs created, by intent label (no-match included).",
		},
		[]string{"intent", "mode"}, // mode: sync | async
	)

	runsSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_runs_settled_total",
			Help: "Task runs that finished their plan, by reported status.",
		},
		[]string{"status"},
	)

	runControlTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_run_control_total",
			Help: "Run control requests, by action and result.",
		},
		[]string{"action", "result"},
	)

	watchdogRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchdog_recoveries_total",
			Help: "Stalled runs reclaimed by the watchdog, by outcome.",
		},
		[]string{"outcome"}, // retried | failed
	)
)

func IncRunSubmitted(intent, mode string) {
	if intent == "" {
		intent = "no-match"
	}
	runsSubmittedTotal.WithLabelValues(norm(intent), norm(mode)).Inc()
}

func IncRunSettled(status string) {
	runsSettledTotal.WithLabelValues(norm(status)).Inc()
}

func IncRunControl(action, result string) {
	runControlTotal.WithLabelValues(norm(action), norm(result)).Inc()
}

func IncWatchdogRecovery(outcome string) {
	watchdogRecoveriesTotal.WithLabelValues(norm(outcome)).Inc()
}
