package web

import (
	"strings"
	"sync"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/valyala/fasthttp"
)

// Handler handles a routed request. A returned error is written as an
// error envelope.
type Handler func(ctx *RequestContext) error

// Middleware wraps a Handler
type Middleware func(next Handler) Handler

type route struct {
	method  string
	pattern string
	parts   []string
	handler Handler
}

// Router matches method and path patterns with ":name" parameters.
// Middleware added with Use applies to routes registered afterwards.
type Router struct {
	mu         sync.RWMutex
	routes     []*route
	middleware []Middleware
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{}
}

// Use appends router-wide middleware.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

func (r *Router) GET(pattern string, h Handler, mw ...Middleware) {
	r.Handle(fasthttp.MethodGet, pattern, h, mw...)
}

func (r *Router) POST(pattern string, h Handler, mw ...Middleware) {
	r.Handle(fasthttp.MethodPost, pattern, h, mw...)
}

// Handle registers h for method and pattern. Route middleware runs inside
// the router-wide middleware.
func (r *Router) Handle(method, pattern string, h Handler, mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h = chain(h, mw)
	h = chain(h, r.middleware)

	r.routes = append(r.routes, &route{
		method:  method,
		pattern: pattern,
		parts:   strings.Split(pattern, "/"),
		handler: h,
	})
}

func chain(h Handler, mw []Middleware) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Routes lists the registered "METHOD pattern" pairs.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.method + " " + rt.pattern
	}
	return out
}

// serve routes ctx. Unknown paths get 404, known paths with another method
// get 405.
func (r *Router) serve(ctx *RequestContext) {
	r.mu.RLock()
	routes := r.routes
	r.mu.RUnlock()

	method := ctx.Method()
	parts := strings.Split(ctx.Path(), "/")

	pathMatched := false
	for _, rt := range routes {
		if !rt.match(parts, nil) {
			continue
		}
		pathMatched = true
		if rt.method != method {
			continue
		}

		rt.match(parts, ctx.Params)
		ctx.route = rt.pattern
		if err := rt.handler(ctx); err != nil {
			_ = ctx.Fail(err)
		}
		return
	}

	if pathMatched {
		writeError(ctx.RequestCtx, fasthttp.StatusMethodNotAllowed, core.CodeMalformedPayload, "method not allowed")
		return
	}
	writeError(ctx.RequestCtx, fasthttp.StatusNotFound, core.CodeUnknownOperation, "no route for "+ctx.Path())
}

// match reports whether path parts fit the pattern and, with params
// non-nil, records the parameters.
func (rt *route) match(parts []string, params map[string]string) bool {
	if len(parts) != len(rt.parts) {
		return false
	}
	for i, p := range rt.parts {
		if strings.HasPrefix(p, ":") {
			if parts[i] == "" {
				return false
			}
			if params != nil {
				params[p[1:]] = parts[i]
			}
			continue
		}
		if p != parts[i] {
			return false
		}
	}
	return true
}
