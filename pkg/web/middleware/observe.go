package middleware

import (
	"context"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/observability/prometheus"
	"github.com/fluxorio/fluxtools/pkg/observability/tracing"
	"github.com/fluxorio/fluxtools/pkg/web"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/trace"
)

// Metrics records request metrics labelled with the route pattern.
func Metrics(m *prometheus.Metrics) web.Middleware {
	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			start := time.Now()
			requestSize := int64(len(ctx.RequestCtx.PostBody()))

			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			if err != nil {
				status = web.StatusFor(core.CodeOf(err))
			}
			responseSize := int64(len(ctx.RequestCtx.Response.Body()))
			m.RecordHTTPRequest(ctx.Method(), ctx.Route(), prometheus.StatusLabel(status), time.Since(start), requestSize, responseSize)
			return err
		}
	}
}

// Tracing opens a server span per request and parents the request context
// on it, so bridge spans nest under the HTTP span.
func Tracing(tracer trace.Tracer) web.Middleware {
	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			var err error
			traced := tracing.Middleware(tracer, ctx.Route(), func(rc *fasthttp.RequestCtx) {
				parent := ctx.Context()
				if spanCtx, ok := rc.UserValue(tracing.SpanContextKey).(context.Context); ok {
					ctx.SetContext(trace.ContextWithSpan(parent, trace.SpanFromContext(spanCtx)))
					defer ctx.SetContext(parent)
				}
				if err = next(ctx); err != nil {
					// the span reads the status after the handler returns
					_ = ctx.Fail(err)
					err = nil
				}
			})
			traced(ctx.RequestCtx)
			return err
		}
	}
}
