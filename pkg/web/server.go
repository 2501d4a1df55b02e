// Package web serves the fluxtools HTTP API on fasthttp.
package web

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/valyala/fasthttp"
)

// ServerConfig configures the fasthttp server
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int
	// MaxInFlight bounds concurrently handled requests; the rest get 429.
	MaxInFlight int
	Logger      core.Logger
}

// DefaultServerConfig returns the configuration used when none is given.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxBodyBytes: 40 << 20,
		MaxInFlight:  1024,
	}
}

// ServerMetrics provides server counters
type ServerMetrics struct {
	TotalRequests      int64
	SuccessfulRequests int64 // 2xx
	ErrorRequests      int64 // 5xx
	RejectedRequests   int64 // refused by backpressure
	InFlight           int64
	Utilization        float64
}

// Server is the fasthttp HTTP server of the API.
type Server struct {
	cfg          ServerConfig
	router       *Router
	server       *fasthttp.Server
	backpressure *BackpressureController
	logger       core.Logger

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	errorRequests      atomic.Int64
}

// NewServer creates a server with an empty router.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultServerConfig("").MaxInFlight
	}

	s := &Server{
		cfg:          cfg,
		router:       NewRouter(),
		backpressure: NewBackpressureController(cfg.MaxInFlight),
		logger:       cfg.Logger.With("component", "http"),
	}
	s.server = &fasthttp.Server{
		Handler:               s.handleRequest,
		Name:                  "fluxtools",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		MaxRequestBodySize:    cfg.MaxBodyBytes,
		NoDefaultServerHeader: true,
		ReduceMemoryUsage:     true,
	}
	return s
}

// Router returns the router to register routes on.
func (s *Server) Router() *Router {
	return s.router
}

// Handler returns the root request handler.
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.handleRequest
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	return s.server.ListenAndServe(s.cfg.Addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown stops accepting connections and waits for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

// Metrics returns current server metrics
func (s *Server) Metrics() ServerMetrics {
	bp := s.backpressure.GetMetrics()
	return ServerMetrics{
		TotalRequests:      s.totalRequests.Load(),
		SuccessfulRequests: s.successfulRequests.Load(),
		ErrorRequests:      s.errorRequests.Load(),
		RejectedRequests:   bp.RejectedCount,
		InFlight:           bp.CurrentLoad,
		Utilization:        bp.Utilization,
	}
}

func (s *Server) handleRequest(rc *fasthttp.RequestCtx) {
	requestID := string(rc.Request.Header.Peek(core.RequestIDHeader))
	if requestID == "" {
		requestID = core.GenerateRequestID()
	}
	rc.Response.Header.Set(core.RequestIDHeader, requestID)
	s.totalRequests.Add(1)

	if !s.backpressure.TryAcquire() {
		writeError(rc, fasthttp.StatusTooManyRequests, core.CodeBackpressure, "server at capacity")
		return
	}
	defer s.backpressure.Release()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "request_id", requestID, "path", string(rc.Path()), "panic", r)
			writeError(rc, fasthttp.StatusInternalServerError, core.CodeInternal, fmt.Sprintf("request %s failed", requestID))
			s.errorRequests.Add(1)
		}
	}()

	s.router.serve(newRequestContext(rc, requestID))

	status := rc.Response.StatusCode()
	switch {
	case status >= 200 && status < 300:
		s.successfulRequests.Add(1)
	case status >= 500:
		s.errorRequests.Add(1)
	}
}
