package web

import (
	"net"
	"testing"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type testClient struct {
	t      *testing.T
	client *fasthttp.Client
}

// startServer serves s on an in-memory listener.
func startServer(t *testing.T, s *Server) *testClient {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return &testClient{t: t, client: &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}}
}

func (c *testClient) do(method, uri string, body []byte, headers ...string) *fasthttp.Response {
	c.t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI("http://fluxtools" + uri)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if body != nil {
		req.SetBody(body)
		req.Header.SetContentType("application/json")
	}

	resp := &fasthttp.Response{}
	require.NoError(c.t, c.client.DoTimeout(req, resp, 10*time.Second))
	return resp
}

func decodeError(t *testing.T, resp *fasthttp.Response) core.Error {
	t.Helper()
	var body ErrorBody
	require.NoError(t, core.JSONDecode(resp.Body(), &body))
	return body.Error
}

func TestServer_RequestID(t *testing.T) {
	s := NewServer(DefaultServerConfig(""))
	s.Router().GET("/ping", func(ctx *RequestContext) error {
		return ctx.Text(fasthttp.StatusOK, core.GetRequestID(ctx.Context()))
	})
	c := startServer(t, s)

	resp := c.do(fasthttp.MethodGet, "/ping", nil, core.RequestIDHeader, "req-42")
	assert.Equal(t, "req-42", string(resp.Header.Peek(core.RequestIDHeader)))
	assert.Equal(t, "req-42", string(resp.Body()))

	resp = c.do(fasthttp.MethodGet, "/ping", nil)
	generated := string(resp.Header.Peek(core.RequestIDHeader))
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, string(resp.Body()))
}

func TestServer_NotFoundAndMethodNotAllowed(t *testing.T) {
	s := NewServer(DefaultServerConfig(""))
	s.Router().GET("/only-get", func(ctx *RequestContext) error { return ctx.Text(fasthttp.StatusOK, "ok") })
	c := startServer(t, s)

	resp := c.do(fasthttp.MethodGet, "/missing", nil)
	assert.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
	assert.Equal(t, core.CodeUnknownOperation, decodeError(t, resp).Code)

	resp = c.do(fasthttp.MethodPost, "/only-get", []byte("{}"))
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, resp.StatusCode())
}

func TestServer_PanicIsInternalError(t *testing.T) {
	s := NewServer(DefaultServerConfig(""))
	s.Router().GET("/boom", func(ctx *RequestContext) error { panic("boom") })
	c := startServer(t, s)

	resp := c.do(fasthttp.MethodGet, "/boom", nil)
	assert.Equal(t, fasthttp.StatusInternalServerError, resp.StatusCode())
	assert.Equal(t, core.CodeInternal, decodeError(t, resp).Code)
	assert.Equal(t, int64(1), s.Metrics().ErrorRequests)
}

func TestServer_Backpressure(t *testing.T) {
	cfg := DefaultServerConfig("")
	cfg.MaxInFlight = 1
	s := NewServer(cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	s.Router().GET("/slow", func(ctx *RequestContext) error {
		close(entered)
		<-release
		return ctx.Text(fasthttp.StatusOK, "done")
	})
	s.Router().GET("/fast", func(ctx *RequestContext) error { return ctx.Text(fasthttp.StatusOK, "ok") })
	c := startServer(t, s)

	slow := make(chan int, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		defer fasthttp.ReleaseRequest(req)
		req.SetRequestURI("http://fluxtools/slow")
		resp := &fasthttp.Response{}
		if err := c.client.DoTimeout(req, resp, 10*time.Second); err != nil {
			slow <- 0
			return
		}
		slow <- resp.StatusCode()
	}()
	<-entered

	resp := c.do(fasthttp.MethodGet, "/fast", nil)
	assert.Equal(t, fasthttp.StatusTooManyRequests, resp.StatusCode())
	assert.Equal(t, core.CodeBackpressure, decodeError(t, resp).Code)

	close(release)
	assert.Equal(t, fasthttp.StatusOK, <-slow)
	assert.Equal(t, int64(1), s.Metrics().RejectedRequests)
}

func TestRouter_ParamsAndMiddlewareOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx *RequestContext) error {
				order = append(order, name)
				return next(ctx)
			}
		}
	}

	r := NewRouter()
	r.GET("/before/:id", func(ctx *RequestContext) error { return nil })
	r.Use(mark("global"))
	r.GET("/items/:id", func(ctx *RequestContext) error {
		order = append(order, "handler:"+ctx.Param("id")+":"+ctx.Route())
		return nil
	}, mark("route"))

	assert.Equal(t, []string{"GET /before/:id", "GET /items/:id"}, r.Routes())

	rc := &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI("/items/abc")
	rc.Request.Header.SetMethod(fasthttp.MethodGet)
	r.serve(newRequestContext(rc, "id"))
	assert.Equal(t, []string{"global", "route", "handler:abc:/items/:id"}, order)

	order = nil
	rc = &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI("/before/x")
	r.serve(newRequestContext(rc, "id"))
	assert.Empty(t, order)

	rc = &fasthttp.RequestCtx{}
	rc.Request.SetRequestURI("/items/")
	r.serve(newRequestContext(rc, "id"))
	assert.Equal(t, fasthttp.StatusNotFound, rc.Response.StatusCode())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code core.Code
		want int
	}{
		{core.CodeInvalidAlgorithm, fasthttp.StatusBadRequest},
		{core.CodeMalformedPayload, fasthttp.StatusBadRequest},
		{core.CodeUnknownOperation, fasthttp.StatusBadRequest},
		{core.CodePayloadTooLarge, fasthttp.StatusRequestEntityTooLarge},
		{core.CodeBackpressure, fasthttp.StatusTooManyRequests},
		{core.CodeUnavailable, fasthttp.StatusServiceUnavailable},
		{core.CodeTimeout, fasthttp.StatusGatewayTimeout},
		{core.CodeCancelled, StatusClientClosedRequest},
		{core.CodeInternal, fasthttp.StatusInternalServerError},
		{"other", fasthttp.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.code))
		})
	}
}

func TestRequestContext_JSONRejectsBadStatus(t *testing.T) {
	ctx := newRequestContext(&fasthttp.RequestCtx{}, "id")
	assert.Error(t, ctx.JSON(42, map[string]string{}))
	require.NoError(t, ctx.JSON(fasthttp.StatusCreated, map[string]string{"a": "b"}))
	assert.Equal(t, fasthttp.StatusCreated, ctx.RequestCtx.Response.StatusCode())
	assert.JSONEq(t, `{"a":"b"}`, string(ctx.RequestCtx.Response.Body()))
}

func TestRequestContext_BindJSON(t *testing.T) {
	rc := &fasthttp.RequestCtx{}
	ctx := newRequestContext(rc, "id")
	var v map[string]string
	assert.ErrorIs(t, ctx.BindJSON(&v), core.ErrMalformedPayload)

	rc.Request.SetBodyString("{not json")
	assert.ErrorIs(t, ctx.BindJSON(&v), core.ErrMalformedPayload)

	rc.Request.SetBodyString(`{"k":"v"}`)
	require.NoError(t, ctx.BindJSON(&v))
	assert.Equal(t, "v", v["k"])
}
