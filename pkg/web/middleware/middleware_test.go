package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/fluxorio/fluxtools/pkg/async"
	"github.com/fluxorio/fluxtools/pkg/bridge"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/observability/prometheus"
	"github.com/fluxorio/fluxtools/pkg/web"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// serve runs one request through a server with h on pattern.
func serve(t *testing.T, method, pattern, uri string, h web.Handler, mw ...web.Middleware) *fasthttp.RequestCtx {
	t.Helper()
	s := web.NewServer(web.DefaultServerConfig(""))
	s.Router().Handle(method, pattern, h, mw...)

	rc := &fasthttp.RequestCtx{}
	rc.Request.Header.SetMethod(method)
	rc.Request.SetRequestURI(uri)
	s.Handler()(rc)
	return rc
}

func errorCode(t *testing.T, rc *fasthttp.RequestCtx) core.Code {
	t.Helper()
	var body web.ErrorBody
	require.NoError(t, core.JSONDecode(rc.Response.Body(), &body))
	return body.Error.Code
}

func TestRecovery(t *testing.T) {
	panics := func(ctx *web.RequestContext) error { panic("kaboom") }

	rc := serve(t, fasthttp.MethodGet, "/p", "/p", panics, Recovery(RecoveryConfig{}))
	assert.Equal(t, fasthttp.StatusInternalServerError, rc.Response.StatusCode())
	assert.Equal(t, core.CodeInternal, errorCode(t, rc))
	assert.NotContains(t, string(rc.Response.Body()), "kaboom")

	rc = serve(t, fasthttp.MethodGet, "/p", "/p", panics, Recovery(RecoveryConfig{StackTrace: true}))
	assert.Contains(t, string(rc.Response.Body()), "kaboom")
}

func TestTimeout(t *testing.T) {
	waitsForever := func(ctx *web.RequestContext) error {
		_, err := bridge.Wait(ctx.Context(), async.NewPromise[int]().Future())
		return err
	}

	start := time.Now()
	rc := serve(t, fasthttp.MethodGet, "/slow", "/slow", waitsForever, Timeout(20*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, fasthttp.StatusGatewayTimeout, rc.Response.StatusCode())
	assert.Equal(t, core.CodeTimeout, errorCode(t, rc))

	assert.Panics(t, func() { Timeout(0) })
}

func TestTimeoutKeepsRequestID(t *testing.T) {
	var requestID string
	h := func(ctx *web.RequestContext) error {
		requestID = core.GetRequestID(ctx.Context())
		return ctx.Text(fasthttp.StatusOK, "ok")
	}
	rc := serve(t, fasthttp.MethodGet, "/id", "/id", h, Timeout(time.Second))
	assert.Equal(t, string(rc.Response.Header.Peek(core.RequestIDHeader)), requestID)
}

func TestMetrics(t *testing.T) {
	m := prometheus.NewMetrics(promclient.NewRegistry())

	ok := func(ctx *web.RequestContext) error { return ctx.Text(fasthttp.StatusOK, "ok") }
	fails := func(ctx *web.RequestContext) error { return core.NewError(core.CodeUnavailable, "down") }

	serve(t, fasthttp.MethodGet, "/api/v1/tools/:id", "/api/v1/tools/x", ok, Metrics(m))
	serve(t, fasthttp.MethodPost, "/api/v1/diff", "/api/v1/diff", fails, Metrics(m))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/tools/:id", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/diff", "503")))
}

func TestTracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")

	var inner trace.SpanContext
	h := func(ctx *web.RequestContext) error {
		inner = trace.SpanContextFromContext(ctx.Context())
		return core.NewError(core.CodeTimeout, "slow")
	}
	rc := serve(t, fasthttp.MethodPost, "/api/v1/hash/text", "/api/v1/hash/text", h, Tracing(tracer))

	assert.Equal(t, fasthttp.StatusGatewayTimeout, rc.Response.StatusCode())
	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /api/v1/hash/text", spans[0].Name())
	assert.Equal(t, spans[0].SpanContext().SpanID(), inner.SpanID())
}

func TestLoggingPassesErrorThrough(t *testing.T) {
	h := func(ctx *web.RequestContext) error { return core.NewError(core.CodeMalformedPayload, "bad") }
	rc := serve(t, fasthttp.MethodPost, "/x", "/x", h, Logging(core.NewNopLogger()))
	assert.Equal(t, fasthttp.StatusBadRequest, rc.Response.StatusCode())
	assert.Equal(t, core.CodeMalformedPayload, errorCode(t, rc))
}

func TestTimeoutParentRestored(t *testing.T) {
	var during, after context.Context
	inner := func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			err := next(ctx)
			after = ctx.Context()
			return err
		}
	}
	h := func(ctx *web.RequestContext) error {
		during = ctx.Context()
		return nil
	}
	serve(t, fasthttp.MethodGet, "/r", "/r", h, inner, Timeout(time.Second))

	_, hasDeadline := during.Deadline()
	assert.True(t, hasDeadline)
	_, hasDeadline = after.Deadline()
	assert.False(t, hasDeadline)
}
