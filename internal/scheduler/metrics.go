package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	overlapSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caretaker_scheduler_overlap_skips_total",
		Help: "Fires dropped because the job's previous run was still in flight.",
	}, []string{"job"})

	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caretaker_scheduler_jobs_in_flight",
		Help: "Job runs currently executing.",
	})
)

func init() {
	prometheus.MustRegister(overlapSkips, inFlight)
}

func observeSkip(job string) { overlapSkips.WithLabelValues(job).Inc() }
func observeLaunch()         { inFlight.Inc() }
func observeDone()           { inFlight.Dec() }
