package adminhttp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/evenact/dispatch"
	"github.com/evenact/dispatch/internal/config"
)

func newTestInstance(t *testing.T) *dispatch.Instance {
	t.Helper()
	opts := config.Defaults()
	opts.Timeout = 200 * time.Millisecond
	opts.Internal.CloseSignals = nil
	inst, err := dispatch.New(opts, nil)
	require.NoError(t, err)
	return inst
}

func requestCtx(path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(path)
	return ctx
}

func TestHealthReportsReadyForIdleInstance(t *testing.T) {
	inst := newTestInstance(t)
	s := New(inst, nil, zap.NewNop())

	ctx := requestCtx("/health")
	s.Handler()(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	data := body["data"].(map[string]interface{})
	require.Equal(t, "ready", data["status"])
}

func TestActionsListsRegisteredPatterns(t *testing.T) {
	inst := newTestInstance(t)
	_, err := inst.Add(map[string]string{"role": "math", "cmd": "sum"}, func(this *dispatch.Delegate, msg dispatch.Message, done dispatch.Done) {
		done(nil, dispatch.Message{})
	})
	require.NoError(t, err)

	s := New(inst, nil, zap.NewNop())
	ctx := requestCtx("/actions")
	s.Handler()(ctx)

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	entry := data[0].(map[string]interface{})
	require.Equal(t, "cmd:sum,role:math", entry["pattern"])
}

func TestMetricsNotConfiguredReturns404(t *testing.T) {
	inst := newTestInstance(t)
	s := New(inst, nil, zap.NewNop())

	ctx := requestCtx("/metrics")
	s.Handler()(ctx)

	require.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestUnknownRouteReturns404(t *testing.T) {
	inst := newTestInstance(t)
	s := New(inst, nil, zap.NewNop())

	ctx := requestCtx("/nope")
	s.Handler()(ctx)

	require.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
