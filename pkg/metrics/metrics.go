package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_nodes_connected",
			Help: "Number of nodes with an active agent channel",
		},
	)

	NodesDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_nodes_degraded",
			Help: "Number of nodes reporting an unavailable backend",
		},
	)

	DatasetsConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_datasets_configured",
			Help: "Number of datasets in the desired configuration",
		},
	)

	DatasetsConverged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_datasets_converged",
			Help: "Number of datasets present on their primary node",
		},
	)

	// Agent channel metrics
	ConfigurationsPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_configurations_pushed_total",
			Help: "Total number of configuration frames pushed to agents",
		},
	)

	StateReportsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_state_reports_received_total",
			Help: "Total number of state reports received from agents",
		},
	)

	// Convergence metrics
	ConvergenceOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_convergence_operations_total",
			Help: "Total number of backend operations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ConvergenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_convergence_duration_seconds",
			Help:    "Backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesConnected)
	prometheus.MustRegister(NodesDegraded)
	prometheus.MustRegister(DatasetsConfigured)
	prometheus.MustRegister(DatasetsConverged)
	prometheus.MustRegister(ConfigurationsPushed)
	prometheus.MustRegister(StateReportsReceived)
	prometheus.MustRegister(ConvergenceOperations)
	prometheus.MustRegister(ConvergenceDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
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

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in the given histogram vec
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
