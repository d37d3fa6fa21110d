// Package dispatchmetrics exposes dispatcher call statistics as Prometheus
// collectors: per-pattern call counts and latency, action-cache hit totals
// and size, and error counts by kind. This is additive instrumentation alongside the
// core's own in-memory Stats counters, not a replacement for them.
package dispatchmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// PrometheusMetrics holds the dispatcher's Prometheus collectors.
type PrometheusMetrics struct {
	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	cacheHitsTotal *prometheus.CounterVec
	cacheSize      prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
	loopRejections *prometheus.CounterVec
	gateInflight   prometheus.Gauge

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics registers the dispatcher's collectors against the
// default Prometheus registerer.
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry registers the dispatcher's collectors
// against a caller-supplied registerer, for tests or multi-instance hosts.
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{logger: logger}

	pm.callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Total number of act() calls, by pattern and outcome",
		},
		[]string{"pattern", "status"},
	)

	pm.callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Time from act() entry to continuation, by pattern",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pattern", "status"},
	)

	pm.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "actcache_hits_total",
			Help:      "Total number of action-cache replay hits, by pattern",
		},
		[]string{"pattern"},
	)

	pm.cacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "actcache_size",
			Help:      "Current number of entries held by the action cache backend",
		},
	)

	pm.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Total number of act() errors, by error kind",
		},
		[]string{"kind"},
	)

	pm.loopRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "loop_rejections_total",
			Help:      "Total number of calls rejected for exceeding strict.maxloop, by pattern",
		},
		[]string{"pattern"},
	)

	pm.gateInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "gate_inflight",
			Help:      "Number of calls currently admitted into the root gate",
		},
	)

	registerer.MustRegister(
		pm.callsTotal,
		pm.callDuration,
		pm.cacheHitsTotal,
		pm.cacheSize,
		pm.errorsTotal,
		pm.loopRejections,
		pm.gateInflight,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("dispatch metrics initialized", zap.String("namespace", namespace))
	return pm
}

// RecordCall records a completed act() call's outcome and latency.
func (pm *PrometheusMetrics) RecordCall(pattern, status string, duration time.Duration) {
	pm.callsTotal.WithLabelValues(pattern, status).Inc()
	pm.callDuration.WithLabelValues(pattern, status).Observe(duration.Seconds())
}

// RecordCacheHit records an action-cache replay hit for pattern.
func (pm *PrometheusMetrics) RecordCacheHit(pattern string) {
	pm.cacheHitsTotal.WithLabelValues(pattern).Inc()
}

// AddCacheHits adds n action-cache replay hits for pattern in one step, for
// callers that poll a cumulative counter (dispatch.Instance.Stats().CacheHits
// has no per-pattern breakdown, so it polls under pattern "").
func (pm *PrometheusMetrics) AddCacheHits(pattern string, n float64) {
	if n <= 0 {
		return
	}
	pm.cacheHitsTotal.WithLabelValues(pattern).Add(n)
}

// SetCacheSize updates the action-cache size gauge.
func (pm *PrometheusMetrics) SetCacheSize(n int) {
	pm.cacheSize.Set(float64(n))
}

// RecordError records an act() failure by its actionerr.Kind string.
func (pm *PrometheusMetrics) RecordError(kind string) {
	pm.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLoopRejection records an act_loop rejection for pattern.
func (pm *PrometheusMetrics) RecordLoopRejection(pattern string) {
	pm.loopRejections.WithLabelValues(pattern).Inc()
}

// SetGateInflight updates the root gate's in-flight gauge.
func (pm *PrometheusMetrics) SetGateInflight(n int) {
	pm.gateInflight.Set(float64(n))
}

// ServeHTTP serves the Prometheus exposition format over fasthttp.
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}

// counterValue reads a single counter's current value, used by tests that
// want to assert on recorded totals without scraping the HTTP endpoint.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
