package web

import (
	"context"
	"fmt"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/valyala/fasthttp"
)

// RequestContext wraps fasthttp.RequestCtx with the route, path parameters,
// request id and a context.Context for downstream calls.
type RequestContext struct {
	RequestCtx *fasthttp.RequestCtx
	Params     map[string]string

	route     string
	requestID string
	ctx       context.Context
	values    map[string]interface{}
}

func newRequestContext(rc *fasthttp.RequestCtx, requestID string) *RequestContext {
	return &RequestContext{
		RequestCtx: rc,
		Params:     make(map[string]string),
		requestID:  requestID,
		ctx:        core.WithRequestID(context.Background(), requestID),
	}
}

// JSON writes v as the response body.
func (c *RequestContext) JSON(statusCode int, v interface{}) error {
	if statusCode < 100 || statusCode > 599 {
		return fmt.Errorf("invalid status code: %d", statusCode)
	}

	data, err := core.JSONEncode(v)
	if err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}

	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("application/json")
	c.RequestCtx.SetBody(data)
	return nil
}

// BindJSON decodes the request body into v. Failures are malformed_payload
// errors.
func (c *RequestContext) BindJSON(v interface{}) error {
	if v == nil {
		return fmt.Errorf("cannot bind to nil value")
	}

	body := c.RequestCtx.PostBody()
	if len(body) == 0 {
		return core.NewError(core.CodeMalformedPayload, "empty request body")
	}
	if err := core.JSONDecode(body, v); err != nil {
		return core.NewError(core.CodeMalformedPayload, "invalid JSON body: %v", err)
	}
	return nil
}

// Text writes a plain text response
func (c *RequestContext) Text(statusCode int, text string) error {
	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("text/plain; charset=utf-8")
	c.RequestCtx.SetBodyString(text)
	return nil
}

// Query returns a query parameter
func (c *RequestContext) Query(key string) string {
	return string(c.RequestCtx.QueryArgs().Peek(key))
}

// Param returns a path parameter
func (c *RequestContext) Param(key string) string {
	return c.Params[key]
}

func (c *RequestContext) Method() string {
	return string(c.RequestCtx.Method())
}

func (c *RequestContext) Path() string {
	return string(c.RequestCtx.Path())
}

// Route returns the pattern of the matched route, e.g. "/api/v1/tools/:id".
func (c *RequestContext) Route() string {
	return c.route
}

// RequestID returns the request ID for this request
func (c *RequestContext) RequestID() string {
	return c.requestID
}

// Context returns the context handed to bridge calls. It carries the
// request id and whatever middleware attached with SetContext.
func (c *RequestContext) Context() context.Context {
	return c.ctx
}

// SetContext replaces the request context.
func (c *RequestContext) SetContext(ctx context.Context) {
	c.ctx = ctx
}

// Set stores a request-scoped value
func (c *RequestContext) Set(key string, v interface{}) {
	if c.values == nil {
		c.values = make(map[string]interface{})
	}
	c.values[key] = v
}

// Get returns a value stored with Set
func (c *RequestContext) Get(key string) interface{} {
	return c.values[key]
}

// Fail writes err as an error envelope with the status of its code.
func (c *RequestContext) Fail(err error) error {
	e := core.AsError(err)
	return c.JSON(StatusFor(e.Code), ErrorBody{Error: *e})
}
