package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(jobsFinishedTotal, jobAttemptsTotal, jobsInFlight) }

var (
	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finished_total",
			Help: "Jobs that reached a terminal state, by type and status.",
		},
		[]string{"type", "status"}, // status: succeeded | failed
	)

	jobAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_attempts_total",
			Help: "Job execution attempts, by type and outcome.",
		},
		[]string{"type", "outcome"}, // outcome: ok | transient | permanent
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "Job attempts currently executing.",
		},
	)
)

func IncJobFinished(jobType, status string) {
	jobsFinishedTotal.WithLabelValues(norm(jobType), norm(status)).Inc()
}

func IncJobAttempt(jobType, outcome string) {
	jobAttemptsTotal.WithLabelValues(norm(jobType), norm(outcome)).Inc()
}

func JobStarted()  { jobsInFlight.Inc() }
func JobFinished() { jobsInFlight.Dec() }
