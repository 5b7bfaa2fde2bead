// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "douyindl"

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Run metrics
	RunsStarted   prometheus.Counter
	RunsCompleted *prometheus.CounterVec
	RunsActive    prometheus.Gauge

	// Item metrics
	ItemsTotal   *prometheus.CounterVec
	ItemDuration prometheus.Histogram

	// Resolver metrics
	StrategyAttempts *prometheus.CounterVec

	// Transfer metrics
	TransferBytes    prometheus.Counter
	TransferRetries  prometheus.Counter
	TransferOutcomes *prometheus.CounterVec

	// Profile metrics
	ProfilePages  prometheus.Counter
	ProfileErrors prometheus.Counter

	// Storage metrics
	StoredRuns       prometheus.Gauge
	CleanupRunsTotal prometheus.Counter

	// Settings metrics
	SettingsLoads *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge
}

// New creates all application metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "started_total",
			Help:      "Total number of runs started",
		}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "completed_total",
			Help:      "Total number of runs that finished, by whether they were cancelled",
		}, []string{"cancelled"}),
		RunsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Whether a run is currently active",
		}),

		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "items",
			Name:      "total",
			Help:      "Total number of items processed by terminal status",
		}, []string{"status"}),
		ItemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "items",
			Name:      "duration_seconds",
			Help:      "Histogram of per-item pipeline duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),

		StrategyAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "strategy_attempts_total",
			Help:      "Total number of resolution strategy attempts by strategy and result",
		}, []string{"strategy", "result"}),

		TransferBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Total bytes written by the transfer engine",
		}),
		TransferRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "retries_total",
			Help:      "Total number of transfer retries",
		}),
		TransferOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "outcomes_total",
			Help:      "Total number of transfer outcomes by kind",
		}, []string{"outcome"}),

		ProfilePages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "pages_total",
			Help:      "Total number of profile pages fetched",
		}),
		ProfileErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "profile",
			Name:      "errors_total",
			Help:      "Total number of failed profile page fetches",
		}),

		StoredRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "runs_current",
			Help:      "Current number of stored runs",
		}),
		CleanupRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "cleanup_runs_total",
			Help:      "Total number of expired runs cleaned up",
		}),

		SettingsLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settings",
			Name:      "loads_total",
			Help:      "Total number of settings backend loads by result",
		}, []string{"result"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of requests made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordRunStarted records a run start.
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}

	m.RunsStarted.Inc()
	m.RunsActive.Set(1)
}

// RecordRunCompleted records a run completion.
func (m *Metrics) RecordRunCompleted(cancelled bool) {
	if m == nil {
		return
	}

	m.RunsCompleted.WithLabelValues(strconv.FormatBool(cancelled)).Inc()
	m.RunsActive.Set(0)
}

// RecordItem records a terminal item status and its duration.
func (m *Metrics) RecordItem(status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.ItemsTotal.WithLabelValues(status).Inc()
	m.ItemDuration.Observe(elapsed.Seconds())
}

// RecordStrategy records one strategy attempt.
func (m *Metrics) RecordStrategy(strategy string, ok bool) {
	if m == nil {
		return
	}

	result := "fail"
	if ok {
		result = "ok"
	}

	m.StrategyAttempts.WithLabelValues(strategy, result).Inc()
}

// RecordTransfer records a transfer outcome.
func (m *Metrics) RecordTransfer(outcome string, bytes int64, retries int) {
	if m == nil {
		return
	}

	m.TransferOutcomes.WithLabelValues(outcome).Inc()
	m.TransferBytes.Add(float64(bytes))
	m.TransferRetries.Add(float64(retries))
}

// RecordProfilePage records one profile page fetch.
func (m *Metrics) RecordProfilePage(ok bool) {
	if m == nil {
		return
	}

	m.ProfilePages.Inc()

	if !ok {
		m.ProfileErrors.Inc()
	}
}

// RecordCleanup records cleanup metrics.
func (m *Metrics) RecordCleanup(runs int) {
	if m == nil {
		return
	}

	m.CleanupRunsTotal.Add(float64(runs))
}

// SetStoredRuns sets the number of stored runs.
func (m *Metrics) SetStoredRuns(count int) {
	if m == nil {
		return
	}

	m.StoredRuns.Set(float64(count))
}

// RecordSettingsLoad records a settings backend load.
func (m *Metrics) RecordSettingsLoad(ok bool) {
	if m == nil {
		return
	}

	result := "fail"
	if ok {
		result = "ok"
	}

	m.SettingsLoads.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	if m == nil {
		return
	}

	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	if m == nil {
		return
	}

	m.ProxiesAvailable.Set(float64(count))
}
