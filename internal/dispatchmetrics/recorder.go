package dispatchmetrics

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Recorder centralizes dispatcher metrics recording with debug logging,
// mirroring the teacher's MetricsCollector/PrometheusMetrics pairing: a
// thin façade that logs every record call at debug level and delegates the
// actual collector work to PrometheusMetrics.
type Recorder struct {
	prom   *PrometheusMetrics
	logger *zap.Logger
}

// NewRecorder builds a Recorder registered under namespace against the
// default Prometheus registerer.
func NewRecorder(namespace string, logger *zap.Logger) *Recorder {
	return &Recorder{
		prom:   NewPrometheusMetrics(namespace, logger),
		logger: logger,
	}
}

// RecordCall records a completed act() call.
func (r *Recorder) RecordCall(pattern, status string, duration time.Duration) {
	r.prom.RecordCall(pattern, status, duration)
	r.logger.Debug("recorded call metric",
		zap.String("pattern", pattern),
		zap.String("status", status),
		zap.Duration("duration", duration))
}

// RecordCacheHit records an action-cache replay hit.
func (r *Recorder) RecordCacheHit(pattern string) {
	r.prom.RecordCacheHit(pattern)
	r.logger.Debug("recorded actcache hit metric", zap.String("pattern", pattern))
}

// SetCacheSize updates the action-cache size gauge.
func (r *Recorder) SetCacheSize(n int) {
	r.prom.SetCacheSize(n)
}

// AddCacheHits adds n action-cache replay hits under pattern in one step.
func (r *Recorder) AddCacheHits(pattern string, n float64) {
	r.prom.AddCacheHits(pattern, n)
}

// RecordError records an act() failure by error kind.
func (r *Recorder) RecordError(kind string) {
	r.prom.RecordError(kind)
	r.logger.Debug("recorded error metric", zap.String("kind", kind))
}

// RecordLoopRejection records an act_loop rejection.
func (r *Recorder) RecordLoopRejection(pattern string) {
	r.prom.RecordLoopRejection(pattern)
	r.logger.Debug("recorded loop rejection metric", zap.String("pattern", pattern))
}

// SetGateInflight updates the root gate's in-flight gauge.
func (r *Recorder) SetGateInflight(n int) {
	r.prom.SetGateInflight(n)
}

// ServeHTTP serves the Prometheus exposition format over fasthttp.
func (r *Recorder) ServeHTTP(ctx *fasthttp.RequestCtx) {
	r.prom.ServeHTTP(ctx)
}
