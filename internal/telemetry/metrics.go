package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsStarted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_runs_started_total", Help: "Runs created from trigger events"})
	RunsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_runs_completed_total", Help: "Runs that finished every stage"})
	RunsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_runs_failed_total", Help: "Runs that ended in error"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_jobs_completed_total", Help: "Stage jobs completed successfully"})
	JobsRetried       = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_jobs_retried_total", Help: "Stage jobs rescheduled after a transient failure"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_jobs_failed_total", Help: "Stage jobs failed terminally"})
	JobsReaped        = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_jobs_reaped_total", Help: "Stuck jobs returned to the queue by the reaper"})
	DeadLettersSaved  = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_dead_letters_total", Help: "Analytics events parked in the dead-letter table"})
	DeadLettersReplay = prometheus.NewCounter(prometheus.CounterOpts{Name: "referral_dead_letters_replayed_total", Help: "Dead letters successfully replayed"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "referral_jobs_queued", Help: "Jobs waiting to be claimed"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "referral_jobs_inflight", Help: "Jobs currently claimed by a dispatcher"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsStarted,
			RunsCompleted,
			RunsFailed,
			JobsCompleted,
			JobsRetried,
			JobsFailed,
			JobsReaped,
			DeadLettersSaved,
			DeadLettersReplay,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
