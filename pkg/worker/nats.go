package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/nats-io/nats.go"
)

// DefaultPrefix is prepended to every NATS subject when none is configured.
const DefaultPrefix = "fluxtools"

// NATSConfig configures a NATSContext.
type NATSConfig struct {
	// URL is the NATS server URL. Ignored when Conn is set.
	URL string

	// Prefix is prepended to all subjects. Default: "fluxtools".
	Prefix string

	// Name is an optional NATS connection name.
	Name string

	// Conn is a shared connection. The context never closes it.
	Conn *nats.Conn

	// StartTimeout bounds the reachability ping in Start. Default: 2s.
	StartTimeout time.Duration

	// Heartbeat is the interval between liveness pings; 0 disables them.
	Heartbeat time.Duration

	// MaxMissedHeartbeats consecutive misses fault the context. Default: 3.
	MaxMissedHeartbeats int

	Logger core.Logger
}

// Subject mapping:
//   - requests: <prefix>.req.<family> (queue group: <prefix>.workers.<family>)
//   - pings:    <prefix>.ping.<family>
func requestSubject(prefix string, family envelope.Family) string {
	return prefix + ".req." + string(family)
}

func pingSubject(prefix string, family envelope.Family) string {
	return prefix + ".ping." + string(family)
}

func queueGroup(prefix string, family envelope.Family) string {
	return prefix + ".workers." + string(family)
}

func (cfg NATSConfig) withDefaults() NATSConfig {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 2 * time.Second
	}
	if cfg.MaxMissedHeartbeats < 1 {
		cfg.MaxMissedHeartbeats = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}
	return cfg
}

// NATSContext is a worker context whose computations run in a separate
// worker process reached over NATS (see ServeNATS).
type NATSContext struct {
	family envelope.Family
	cfg    NATSConfig
	logger core.Logger

	mu        sync.Mutex
	state     state
	onMessage func(envelope.Response)
	onFault   func(error)
	nc        *nats.Conn
	ownsConn  bool
	inbox     string
	sub       *nats.Subscription
	stopBeat  chan struct{}
	unwatch   func() bool

	deliverMu sync.Mutex
}

// NewNATSContext creates an unstarted context for family.
func NewNATSContext(family envelope.Family, cfg NATSConfig) *NATSContext {
	cfg = cfg.withDefaults()
	return &NATSContext{
		family: family,
		cfg:    cfg,
		logger: cfg.Logger.With("worker", "nats", "family", string(family)),
	}
}

// NATSFactory returns a Factory producing NATSContexts for family.
func NATSFactory(family envelope.Family, cfg NATSConfig) Factory {
	return func() Context { return NewNATSContext(family, cfg) }
}

func (c *NATSContext) OnMessage(fn func(envelope.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *NATSContext) OnFault(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFault = fn
}

// Start connects (unless a shared connection was given), checks that a
// worker answers on the ping subject and subscribes to a private reply
// inbox.
func (c *NATSContext) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateIdle {
		return ErrAlreadyStarted
	}

	nc, owns := c.cfg.Conn, false
	if nc == nil {
		var err error
		nc, err = nats.Connect(c.cfg.URL, func(o *nats.Options) error {
			if c.cfg.Name != "" {
				o.Name = c.cfg.Name
			}
			o.ClosedCB = func(*nats.Conn) {
				c.fault(fmt.Errorf("%w: nats connection closed", ErrWorkerLost))
			}
			return nil
		})
		if err != nil {
			return core.NewError(core.CodeUnavailable, "connect %s: %v", c.cfg.URL, err)
		}
		owns = true
	}

	if err := c.ping(ctx, nc, c.cfg.StartTimeout); err != nil {
		if owns {
			nc.Close()
		}
		return core.NewError(core.CodeUnavailable, "no %s worker reachable: %v", c.family, err)
	}

	inbox := nc.NewRespInbox()
	sub, err := nc.Subscribe(inbox, c.receive)
	if err != nil {
		if owns {
			nc.Close()
		}
		return core.NewError(core.CodeUnavailable, "subscribe %s: %v", inbox, err)
	}

	c.nc, c.ownsConn, c.inbox, c.sub = nc, owns, inbox, sub
	c.unwatch = context.AfterFunc(ctx, func() {
		c.fault(fmt.Errorf("%w: host context done: %v", ErrContextDead, ctx.Err()))
	})
	if c.cfg.Heartbeat > 0 {
		c.stopBeat = make(chan struct{})
		go c.heartbeat(nc, c.stopBeat)
	}
	c.state = stateRunning

	c.logger.Debug("worker context started", "subject", requestSubject(c.cfg.Prefix, c.family), "inbox", inbox)
	return nil
}

// Send publishes req to the family's request subject.
func (c *NATSContext) Send(req envelope.Request) error {
	c.mu.Lock()
	st, nc, inbox := c.state, c.nc, c.inbox
	c.mu.Unlock()

	if err := st.sendError(); err != nil {
		return err
	}

	data, err := envelope.EncodeRequest(req)
	if err != nil {
		return core.NewError(core.CodeMalformedPayload, "%v", err)
	}

	msg := &nats.Msg{
		Subject: requestSubject(c.cfg.Prefix, c.family),
		Reply:   inbox,
		Data:    data,
	}
	if err := nc.PublishMsg(msg); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrContextDead
		}
		return core.NewError(core.CodeUnavailable, "publish: %v", err)
	}
	return nil
}

// Stop unsubscribes and closes the connection if the context owns it.
func (c *NATSContext) Stop() error {
	c.mu.Lock()
	prev := c.state
	if prev == stateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = stateStopped
	c.mu.Unlock()

	if prev == stateRunning {
		c.release()
	}
	return nil
}

func (c *NATSContext) receive(m *nats.Msg) {
	resp, err := envelope.DecodeResponse(m.Data)
	if err != nil {
		c.logger.Warn("undecodable response dropped", "error", err)
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	running, fn := c.state == stateRunning, c.onMessage
	c.mu.Unlock()

	if !running || fn == nil {
		return
	}
	fn(resp)
}

func (c *NATSContext) ping(ctx context.Context, nc *nats.Conn, timeout time.Duration) error {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := nc.RequestWithContext(pctx, pingSubject(c.cfg.Prefix, c.family), nil)
	return err
}

func (c *NATSContext) heartbeat(nc *nats.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if err := c.ping(context.Background(), nc, c.cfg.Heartbeat); err != nil {
			missed++
			c.logger.Debug("heartbeat missed", "missed", missed, "error", err)
			if missed >= c.cfg.MaxMissedHeartbeats {
				c.fault(fmt.Errorf("%w: %d heartbeats missed: %v", ErrWorkerLost, missed, err))
				return
			}
			continue
		}
		missed = 0
	}
}

func (c *NATSContext) fault(err error) {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	c.state = stateDead
	fn := c.onFault
	c.mu.Unlock()

	c.logger.Warn("worker context faulted", "error", err)
	c.release()
	if fn != nil {
		fn(err)
	}
}

// release must not wait for the heartbeat goroutine, which may be the one
// raising the fault.
func (c *NATSContext) release() {
	c.mu.Lock()
	nc, owns, sub, stop, unwatch := c.nc, c.ownsConn, c.sub, c.stopBeat, c.unwatch
	c.stopBeat = nil
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if stop != nil {
		close(stop)
	}
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if owns && nc != nil {
		nc.Close()
	}
}
