package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_jobs_submitted_total", Help: "Jobs accepted for processing"})
	JobsCompleted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_jobs_completed_total", Help: "Jobs completed successfully"})
	JobsFailed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_jobs_failed_total", Help: "Jobs that ended in failure"})
	JobsCancelled      = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_jobs_cancelled_total", Help: "Jobs cancelled by the caller"})
	JobsInFlight       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "portfolio_jobs_inflight", Help: "Jobs currently running the pipeline"})
	Generations        = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_generations_total", Help: "Accepted model generations"})
	GenerationRetries  = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_generation_retries_total", Help: "Generation attempts retried after transient failure or rejection"})
	CacheHits          = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_cache_hits_total", Help: "Generation requests served from the response cache"})
	ValidationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_validation_failures_total", Help: "Fragments rejected by the quality gate after all attempts"})
	RateLimitWaits     = prometheus.NewCounter(prometheus.CounterOpts{Name: "portfolio_rate_limit_waits_total", Help: "Provider calls that had to wait for a rate limiter slot"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsCancelled,
			JobsInFlight,
			Generations,
			GenerationRetries,
			CacheHits,
			ValidationFailures,
			RateLimitWaits,
		)
	})
	return promhttp.Handler()
}
