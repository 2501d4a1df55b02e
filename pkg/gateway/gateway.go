// Package gateway exposes the task operations over WebSocket. Each text
// frame carries one request; replies are sent as soon as their call
// settles, so several requests of one connection can be in flight at once
// and replies may arrive out of order. The id of a request is echoed in
// its reply.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/fluxorio/fluxtools/pkg/web/middleware/auth"
	"github.com/gorilla/websocket"
)

// Reply statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Frame is a client request.
type Frame struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Reply answers the Frame with the same ID.
type Reply struct {
	ID      string      `json:"id"`
	Status  string      `json:"status"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *core.Error `json:"error,omitempty"`
}

// Recorder receives connection and frame events.
type Recorder interface {
	GatewayConnected(delta int)
	RecordGatewayFrame(status string)
}

type nopRecorder struct{}

func (nopRecorder) GatewayConnected(int)      {}
func (nopRecorder) RecordGatewayFrame(string) {}

// Config configures the gateway
type Config struct {
	Addr string
	// Path is the upgrade endpoint (default "/ws").
	Path string
	// RatePerSecond and Burst limit the frames of one connection. Frames
	// over the limit are answered with a backpressure error. 0 disables.
	RatePerSecond float64
	Burst         int
	// MaxFrameBytes closes connections sending larger frames.
	MaxFrameBytes int64
	WriteTimeout  time.Duration
	// Verifier, when set, requires a bearer token on the upgrade request,
	// in the Authorization header or the TokenQuery parameter.
	Verifier   *auth.Verifier
	TokenQuery string
	Logger     core.Logger
	Recorder   Recorder
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:          addr,
		Path:          "/ws",
		RatePerSecond: 50,
		Burst:         100,
		MaxFrameBytes: 16 << 20,
		WriteTimeout:  10 * time.Second,
		TokenQuery:    "token",
	}
}

// Gateway serves WebSocket clients on net/http.
type Gateway struct {
	cfg      Config
	hash     *hash.Client
	diff     *diff.Client
	upgrader websocket.Upgrader
	server   *http.Server
	logger   core.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// New creates a gateway calling into the hash and diff clients.
func New(cfg Config, h *hash.Client, d *diff.Client) *Gateway {
	failfast.NotNil(h, "hash client")
	failfast.NotNil(d, "diff client")

	defaults := DefaultConfig(cfg.Addr)
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	g := &Gateway{
		cfg:  cfg,
		hash: h,
		diff: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser tools are served from other origins; access is
			// controlled by the token instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  cfg.Logger.With("component", "gateway"),
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, g.handleWebSocket)
	g.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Handler returns the HTTP handler serving the upgrade path.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// ListenAndServe serves on the configured address until Shutdown.
func (g *Gateway) ListenAndServe() error {
	g.logger.Info("websocket gateway listening", "addr", g.cfg.Addr, "path", g.cfg.Path)
	if err := g.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve serves on ln until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	if err := g.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Clients returns the number of open connections.
func (g *Gateway) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown stops accepting connections, closes the open ones and waits
// for their handlers to return. Calls still in flight are cancelled.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	clients := make([]*client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	err := g.server.Shutdown(ctx)
	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Verifier != nil {
		if err := g.authorize(r); err != nil {
			g.logger.Debug("websocket upgrade rejected", "remote", r.RemoteAddr, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="fluxtools"`)
			writeHTTPError(w, http.StatusUnauthorized, auth.CodeUnauthorized, "invalid or missing token")
			return
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(g, conn, core.GenerateRequestID())
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		c.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	g.clients[c] = struct{}{}
	g.wg.Add(1)
	g.mu.Unlock()

	g.cfg.Recorder.GatewayConnected(1)
	g.logger.Debug("websocket client connected", "conn_id", c.id, "remote", r.RemoteAddr)

	go func() {
		defer g.wg.Done()
		c.readLoop()
		g.removeClient(c)
	}()
}

func (g *Gateway) authorize(r *http.Request) error {
	token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
	if err != nil && g.cfg.TokenQuery != "" {
		if q := r.URL.Query().Get(g.cfg.TokenQuery); q != "" {
			token, err = q, nil
		}
	}
	if err != nil {
		return err
	}
	_, err = g.cfg.Verifier.Verify(token)
	return err
}

func (g *Gateway) removeClient(c *client) {
	g.mu.Lock()
	_, ok := g.clients[c]
	delete(g.clients, c)
	g.mu.Unlock()

	if ok {
		g.cfg.Recorder.GatewayConnected(-1)
		g.logger.Debug("websocket client disconnected", "conn_id", c.id)
	}
}

func writeHTTPError(w http.ResponseWriter, status int, code core.Code, message string) {
	data, err := core.JSONEncode(map[string]core.Error{"error": {Code: code, Message: message}})
	if err != nil {
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
