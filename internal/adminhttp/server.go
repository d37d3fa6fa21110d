// Package adminhttp is a thin fasthttp admin surface for a dispatch
// instance: GET /health reports readiness, GET /actions lists registered
// patterns, GET /metrics serves Prometheus exposition if a recorder was
// supplied. It is explicitly an out-of-core consumer — it only reaches the
// instance through Ready/List/ID, never its internal packages — mirroring
// how the teacher's cmd/edge-gateway wraps internal/edge/server rather than
// folding HTTP concerns into the core.
package adminhttp

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/evenact/dispatch"
	"github.com/evenact/dispatch/internal/common/httputil"
)

// MetricsHandler is implemented by internal/dispatchmetrics.Recorder; kept
// as an interface here so adminhttp doesn't have to import prometheus
// directly, matching the teacher's metricsserver.MetricsHandler seam.
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Server is the admin HTTP surface for a single dispatch.Instance.
type Server struct {
	inst    *dispatch.Instance
	metrics MetricsHandler
	logger  *zap.Logger
}

// New builds a Server for inst. metrics may be nil, in which case
// GET /metrics responds 404.
func New(inst *dispatch.Instance, metrics MetricsHandler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{inst: inst, metrics: metrics, logger: logger}
}

// Handler returns the fasthttp.RequestHandler routing /health, /actions and
// /metrics.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health":
			s.handleHealth(ctx)
		case "/actions":
			s.handleActions(ctx)
		case "/metrics":
			s.handleMetrics(ctx)
		default:
			httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
		}
	}
}

// handleHealth reports whether the instance's root gate is currently idle.
// Readiness is sampled with a short timeout rather than blocking forever,
// since a busy-but-healthy instance should still answer 200.
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	ready := make(chan struct{}, 1)
	s.inst.Ready(func() { ready <- struct{}{} })

	select {
	case <-ready:
		httputil.JSONData(ctx, map[string]interface{}{"status": "ready", "id": s.inst.ID()}, fasthttp.StatusOK)
	case <-time.After(200 * time.Millisecond):
		httputil.JSONData(ctx, map[string]interface{}{"status": "busy", "id": s.inst.ID()}, fasthttp.StatusOK)
	}
}

// handleActions lists every registered action's canonical pattern.
func (s *Server) handleActions(ctx *fasthttp.RequestCtx) {
	metas := s.inst.List(map[string]string{})
	out := make([]map[string]interface{}, 0, len(metas))
	for _, m := range metas {
		out = append(out, map[string]interface{}{
			"id":         m.ID,
			"pattern":    m.Pattern,
			"plugin":     m.Plugin.Name,
			"deprecated": m.Deprecate,
		})
	}
	httputil.JSONData(ctx, out, fasthttp.StatusOK)
}

func (s *Server) handleMetrics(ctx *fasthttp.RequestCtx) {
	if s.metrics == nil {
		httputil.JSONError(ctx, "metrics not configured", fasthttp.StatusNotFound)
		return
	}
	s.metrics.ServeHTTP(ctx)
}

// ListenAndServe starts the admin HTTP server on listen, blocking until it
// stops. Mirrors the teacher's
// metricsserver.StartMetricsServer lifecycle (fixed timeouts, bounded
// concurrency) but serves in the foreground so callers choose how to run
// it (goroutine, errgroup, etc).
func (s *Server) ListenAndServe(listen string) error {
	srv := &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "dispatch-admin",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		Concurrency:        100,
	}
	s.logger.Info("admin http listening", zap.String("listen", listen))
	return srv.ListenAndServe(listen)
}
