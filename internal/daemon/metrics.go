package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and histograms for zmbrokerd.
type Metrics struct {
	registry           *prometheus.Registry
	testsCreatedTotal  *prometheus.CounterVec
	testsClaimedTotal  *prometheus.CounterVec
	testDurationSeconds prometheus.Histogram
	rpcRequestsTotal   *prometheus.CounterVec
	rpcErrorsTotal     *prometheus.CounterVec
	rpcDurationSeconds *prometheus.HistogramVec
}

// NewMetrics constructs a metrics registry and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	testsCreatedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmbroker",
			Subsystem: "test",
			Name:      "created_total",
			Help:      "Total number of Tests created, split by whether the call reused an existing one.",
		},
		[]string{"outcome"}, // "new" | "reused"
	)
	testsClaimedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmbroker",
			Subsystem: "test",
			Name:      "claimed_total",
			Help:      "Total number of claim_next calls that returned a Test id, by queue.",
		},
		[]string{"queue"},
	)
	testDurationSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zmbroker",
			Subsystem: "test",
			Name:      "duration_seconds",
			Help:      "Time from claim to progress=100, as observed by set_progress.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
	)
	rpcRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmbroker",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total RPC calls, by method.",
		},
		[]string{"method"},
	)
	rpcErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zmbroker",
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "Total RPC calls that returned an error, by method and JSON-RPC error code.",
		},
		[]string{"method", "code"},
	)
	rpcDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zmbroker",
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC call handling latency, by method.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method"},
	)

	registry.MustRegister(
		testsCreatedTotal,
		testsClaimedTotal,
		testDurationSeconds,
		rpcRequestsTotal,
		rpcErrorsTotal,
		rpcDurationSeconds,
	)

	return &Metrics{
		registry:            registry,
		testsCreatedTotal:   testsCreatedTotal,
		testsClaimedTotal:   testsClaimedTotal,
		testDurationSeconds: testDurationSeconds,
		rpcRequestsTotal:    rpcRequestsTotal,
		rpcErrorsTotal:      rpcErrorsTotal,
		rpcDurationSeconds:  rpcDurationSeconds,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncTestCreated(reused bool) {
	if m == nil {
		return
	}
	outcome := "new"
	if reused {
		outcome = "reused"
	}
	m.testsCreatedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncTestClaimed(queue string) {
	if m == nil {
		return
	}
	m.testsClaimedTotal.WithLabelValues(queue).Inc()
}

func (m *Metrics) ObserveTestDuration(duration time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.testDurationSeconds.Observe(duration.Seconds())
}

func (m *Metrics) IncRPCRequest(method string) {
	if m == nil {
		return
	}
	m.rpcRequestsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) IncRPCError(method, code string) {
	if m == nil {
		return
	}
	m.rpcErrorsTotal.WithLabelValues(method, code).Inc()
}

func (m *Metrics) ObserveRPCDuration(method string, duration time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.rpcDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}
