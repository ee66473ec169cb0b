package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windrose_runs_submitted_total",
			Help: "Total number of runs submitted",
		},
	)
	RunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windrose_runs_total",
			Help: "Number of runs by status",
		},
		[]string{"status"},
	)
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windrose_jobs_total",
			Help: "Number of job submissions by status",
		},
		[]string{"status"},
	)
	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windrose_instances_total",
			Help: "Number of instances by status",
		},
		[]string{"status"},
	)

	// Reconciler metrics
	ReconcilePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_reconcile_passes_total",
			Help: "Total number of reconcile passes by task",
		},
		[]string{"task"},
	)
	ReconcileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_reconcile_errors_total",
			Help: "Total number of reconcile item failures by task",
		},
		[]string{"task"},
	)
	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "windrose_reconcile_duration_seconds",
			Help:    "Reconcile pass duration in seconds by task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// Provisioning metrics
	InstanceCreateAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_instance_create_attempts_total",
			Help: "Total number of instance creation attempts by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)
	OffersCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windrose_offers_cache_hits_total",
			Help: "Total number of backend offer queries served from cache",
		},
	)

	// Gateway metrics
	GatewayReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_gateway_reloads_total",
			Help: "Total number of gateway config reloads by outcome",
		},
		[]string{"outcome"},
	)

	// Runner client metrics
	RunnerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windrose_runner_requests_total",
			Help: "Total number of runner agent requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RunsSubmitted)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(ReconcilePasses)
	prometheus.MustRegister(ReconcileErrors)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(InstanceCreateAttempts)
	prometheus.MustRegister(OffersCacheHits)
	prometheus.MustRegister(GatewayReloads)
	prometheus.MustRegister(RunnerRequests)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration for histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on the given observer
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}
