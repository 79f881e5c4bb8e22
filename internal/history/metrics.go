package history

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caretaker_job_runs_total",
		Help: "Total finished job runs by terminal status",
	}, []string{"job", "status"})

	runSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caretaker_job_run_seconds",
		Help:    "Wall time of finished job runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(runsTotal, runSeconds)
}

func observeRun(run JobRun) {
	runsTotal.WithLabelValues(run.JobID, string(run.Status)).Inc()
	runSeconds.WithLabelValues(run.JobID).Observe(run.Duration().Seconds())
}
