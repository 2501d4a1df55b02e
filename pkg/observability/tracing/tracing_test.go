package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSetupStdout(t *testing.T) {
	var buf bytes.Buffer
	p, err := Setup(context.Background(), Config{Exporter: ExporterStdout, SampleRate: 1, Writer: &buf})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "bridge.call")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "bridge.call")
	assert.Contains(t, buf.String(), "fluxtools")
}

func TestSetupNone(t *testing.T) {
	p, err := Setup(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "x")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupZipkin(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: ExporterZipkin})
	assert.Error(t, err)

	p, err := Setup(context.Background(), Config{Exporter: ExporterZipkin, Endpoint: "http://127.0.0.1:9411/api/v2/spans", SampleRate: 1})
	require.NoError(t, err)
	assert.NotNil(t, p.TracerProvider())
}

func TestSetupUnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestMiddlewareRecordsServerSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")

	var parented bool
	h := Middleware(tracer, "/api/v1/diff", func(ctx *fasthttp.RequestCtx) {
		spanCtx, ok := ctx.UserValue(SpanContextKey).(context.Context)
		parented = ok && trace.SpanContextFromContext(spanCtx).IsValid()
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetRequestURI("/api/v1/diff")
	h(&ctx)

	assert.True(t, parented)
	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /api/v1/diff", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.response.status_code", 503))
}
