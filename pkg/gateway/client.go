package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/async"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/diff"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/fluxorio/fluxtools/pkg/hash"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// client is one WebSocket connection.
type client struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn
	limiter *rate.Limiter

	// ctx is cancelled when the connection goes away; calls still in
	// flight are cancelled with it.
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	once    sync.Once
}

func newClient(g *Gateway, conn *websocket.Conn, id string) *client {
	ctx, cancel := context.WithCancel(core.WithRequestID(context.Background(), id))
	c := &client{id: id, gateway: g, conn: conn, ctx: ctx, cancel: cancel}
	if g.cfg.RatePerSecond > 0 {
		burst := g.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), burst)
	}
	if g.cfg.MaxFrameBytes > 0 {
		conn.SetReadLimit(g.cfg.MaxFrameBytes)
	}
	return c
}

func (c *client) readLoop() {
	defer c.close(websocket.CloseNormalClosure, "")

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Warn("websocket read error", "conn_id", c.id, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.reply(Reply{Status: StatusError, Error: core.NewError(core.CodeMalformedPayload, "only text frames are accepted")})
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(Reply{Status: StatusError, Error: core.NewError(core.CodeMalformedPayload, "invalid frame: %v", err)})
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.reply(Reply{ID: f.ID, Status: StatusError, Error: core.NewError(core.CodeBackpressure, "frame rate limit exceeded")})
			continue
		}
		c.dispatch(f)
	}
}

// dispatch starts the call for f and replies when it settles. It never
// waits for the result.
func (c *client) dispatch(f Frame) {
	switch envelope.Operation(f.Op) {
	case envelope.OpHashText:
		var req hash.TextRequest
		if !c.decode(f, &req) {
			return
		}
		answer(c, f.ID, c.gateway.hash.HashText(c.ctx, req.Text, algorithmOrDefault(req.Algorithm)))
	case envelope.OpHashFile:
		var req hash.FileRequest
		if !c.decode(f, &req) {
			return
		}
		answer(c, f.ID, c.gateway.hash.HashFile(c.ctx, req.Data, algorithmOrDefault(req.Algorithm)))
	case envelope.OpDiffCompare:
		var req diff.Request
		if !c.decode(f, &req) {
			return
		}
		answer(c, f.ID, c.gateway.diff.CompareWith(c.ctx, req))
	default:
		c.reply(Reply{ID: f.ID, Status: StatusError, Error: core.NewError(core.CodeUnknownOperation, "unknown operation %q", f.Op)})
	}
}

func (c *client) decode(f Frame, v interface{}) bool {
	if len(f.Payload) == 0 {
		c.reply(Reply{ID: f.ID, Status: StatusError, Error: core.NewError(core.CodeMalformedPayload, "%s: missing payload", f.Op)})
		return false
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		c.reply(Reply{ID: f.ID, Status: StatusError, Error: core.NewError(core.CodeMalformedPayload, "%s: %v", f.Op, err)})
		return false
	}
	return true
}

func answer[T any](c *client, id string, f *async.Future[T]) {
	f.OnComplete(func(v T, err error) {
		if err != nil {
			c.reply(Reply{ID: id, Status: StatusError, Error: core.AsError(err)})
			return
		}
		c.reply(Reply{ID: id, Status: StatusOK, Payload: v})
	})
}

func (c *client) reply(r Reply) {
	status := StatusOK
	if r.Error != nil {
		status = string(r.Error.Code)
	}
	c.gateway.cfg.Recorder.RecordGatewayFrame(status)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.gateway.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(r); err != nil {
		c.gateway.logger.Debug("websocket write failed", "conn_id", c.id, "id", r.ID, "error", err)
	}
}

// close sends a close frame and closes the connection once.
func (c *client) close(code int, text string) {
	c.once.Do(func() {
		c.cancel()
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// algorithmOrDefault selects SHA-256 when the frame names no algorithm.
func algorithmOrDefault(s string) hash.Algorithm {
	if s == "" {
		return hash.SHA256
	}
	return hash.Algorithm(s)
}
