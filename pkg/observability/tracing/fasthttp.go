package tracing

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SpanContextKey is the fasthttp user value holding a context.Context
// carrying the server span. The context does not end with the request.
const SpanContextKey = "tracing.ctx"

// headerCarrier adapts fasthttp request headers to propagation.TextMapCarrier.
type headerCarrier struct {
	h *fasthttp.RequestHeader
}

func (c headerCarrier) Get(key string) string { return string(c.h.Peek(key)) }

func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }

func (c headerCarrier) Keys() []string {
	var keys []string
	c.h.VisitAll(func(k, _ []byte) { keys = append(keys, string(k)) })
	return keys
}

var _ propagation.TextMapCarrier = headerCarrier{}

// Middleware opens a server span for each request to route. The span's
// context is stored under SpanContextKey so handlers can parent their own
// spans on it.
func Middleware(tracer trace.Tracer, route string, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		parent := otel.GetTextMapPropagator().Extract(context.Background(), headerCarrier{&ctx.Request.Header})
		spanCtx, span := tracer.Start(parent, string(ctx.Method())+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", string(ctx.Method())),
				attribute.String("http.route", route),
				attribute.String("url.path", string(ctx.Path())),
			))
		defer span.End()

		ctx.SetUserValue(SpanContextKey, spanCtx)
		next(ctx)

		status := ctx.Response.StatusCode()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, fasthttp.StatusMessage(status))
		}
	}
}
