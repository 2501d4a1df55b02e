// Package bridge hands operations to worker execution contexts and settles
// each call with the response that carries its correlation id.
//
// A Bridge serves one operation family. It owns a fixed number of context
// slots, each with its own correlation table. Contexts are created lazily
// through a worker.Factory; a slot whose context faults is restarted on a
// later call until its restart budget is spent, after which it stays dead.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/async"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/correlation"
	"github.com/fluxorio/fluxtools/pkg/envelope"
	"github.com/fluxorio/fluxtools/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type slotStatus int

const (
	slotIdle slotStatus = iota
	slotStarting
	slotRunning
	slotFaulted
	slotDead
)

type slot struct {
	index    int
	status   slotStatus
	ctx      worker.Context
	table    *correlation.Table[json.RawMessage]
	restarts int
	lastErr  error

	// ready is closed when the start in progress has finished.
	ready    chan struct{}
	startErr error
}

// Stats is a snapshot of the bridge state.
type Stats struct {
	Family   envelope.Family
	Slots    int
	Live     int
	Dead     int
	Pending  int
	Restarts int
	Stopped  bool
}

// Bridge dispatches calls of one family to worker contexts.
type Bridge struct {
	family  envelope.Family
	factory worker.Factory
	opts    options
	logger  core.Logger

	mu      sync.Mutex
	slots   []*slot
	stopped bool
}

// New creates a bridge for family. No context is started until the first
// call.
func New(family envelope.Family, factory worker.Factory, opts ...Option) *Bridge {
	failfast.If(family != "", "bridge family cannot be empty")
	failfast.NotNil(factory, "worker factory")

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	slots := make([]*slot, o.contexts)
	for i := range slots {
		slots[i] = &slot{index: i, table: correlation.NewTable[json.RawMessage]()}
	}

	return &Bridge{
		family:  family,
		factory: factory,
		opts:    o,
		logger:  o.logger.With("family", string(family)),
		slots:   slots,
	}
}

// Family returns the family served by the bridge.
func (b *Bridge) Family() envelope.Family {
	return b.family
}

// Call sends op with payload to a worker context. The returned future
// settles exactly once: with the raw result payload, or with a *core.Error
// failure. Call never blocks on the computation itself.
func (b *Bridge) Call(ctx context.Context, op envelope.Operation, payload interface{}) *async.Future[json.RawMessage] {
	if ctx == nil {
		ctx = context.Background()
	}
	if !op.Valid() || op.Family() != b.family {
		return async.Failed[json.RawMessage](core.NewError(core.CodeUnknownOperation, "operation %q is not served by the %s bridge", op, b.family))
	}
	if err := ctx.Err(); err != nil {
		return async.Failed[json.RawMessage](core.NewError(core.CodeCancelled, "%s: %v", op, err))
	}

	req, err := envelope.NewRequest("", op, payload)
	if err != nil {
		return async.Failed[json.RawMessage](err)
	}

	s, wctx, table, err := b.acquire(ctx)
	if err != nil {
		return async.Failed[json.RawMessage](err)
	}

	req.CorrelationID = table.Allocate()
	promise := async.NewPromise[json.RawMessage]()
	c := b.begin(ctx, req, s.index)

	table.Register(req.CorrelationID, correlation.Continuation[json.RawMessage]{
		Resolve: func(v json.RawMessage) {
			c.finish(nil)
			promise.Complete(v)
		},
		Reject: func(err error) {
			c.finish(err)
			promise.Fail(err)
		},
	})

	id := req.CorrelationID
	if b.opts.timeout > 0 {
		timeout := b.opts.timeout
		t := time.AfterFunc(timeout, func() {
			table.Reject(id, core.NewError(core.CodeTimeout, "%s: no response within %s", op, timeout))
		})
		c.arm(t.Stop)
	}
	c.arm(context.AfterFunc(ctx, func() {
		table.Reject(id, core.NewError(core.CodeCancelled, "%s: %v", op, ctx.Err()))
	}))

	if err := wctx.Send(req); err != nil {
		table.Reject(id, sendError(op, err))
	}
	return promise.Future()
}

// Stop stops every context and fails all in-flight calls with
// core.CodeUnavailable. Later calls fail immediately. Stop is idempotent.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	slots := make([]*slot, len(b.slots))
	copy(slots, b.slots)
	b.mu.Unlock()

	var errs []error
	rejected := 0
	for _, s := range slots {
		b.mu.Lock()
		wctx, table := s.ctx, s.table
		s.ctx, s.status = nil, slotDead
		b.mu.Unlock()

		if wctx != nil {
			if err := wctx.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("slot %d: %w", s.index, err))
			}
		}
		rejected += table.RejectAll(core.NewError(core.CodeUnavailable, "%s bridge stopped", b.family))
	}

	b.logger.Info("bridge stopped", "rejected", rejected)
	return errors.Join(errs...)
}

// Stats returns a snapshot of the slot states.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Stats{Family: b.family, Slots: len(b.slots), Stopped: b.stopped}
	for _, s := range b.slots {
		switch s.status {
		case slotRunning:
			st.Live++
		case slotDead:
			st.Dead++
		}
		st.Restarts += s.restarts
		st.Pending += s.table.Len()
	}
	return st
}

// acquire picks the least-loaded usable slot, starting or restarting its
// context when needed. Starts run without b.mu so that calls routed to
// running slots are not held up; callers that pick a starting slot wait
// for it.
func (b *Bridge) acquire(ctx context.Context) (*slot, worker.Context, *correlation.Table[json.RawMessage], error) {
	for {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return nil, nil, nil, core.NewError(core.CodeUnavailable, "%s bridge stopped", b.family)
		}

		best := b.pick()
		if best == nil {
			err := core.NewError(core.CodeUnavailable, "all %s worker contexts are dead: %v", b.family, b.lastError())
			b.mu.Unlock()
			return nil, nil, nil, err
		}

		switch best.status {
		case slotRunning:
			wctx, table := best.ctx, best.table
			b.mu.Unlock()
			return best, wctx, table, nil
		case slotStarting:
			ready := best.ready
			b.mu.Unlock()
			select {
			case <-ready:
			case <-ctx.Done():
				return nil, nil, nil, core.NewError(core.CodeCancelled, "waiting for %s worker: %v", b.family, ctx.Err())
			}
		default:
			wctx, ready, restart := b.prepare(best)
			b.mu.Unlock()
			if err := b.start(ctx, best, wctx, ready, restart); err != nil {
				return nil, nil, nil, err
			}
		}
	}
}

// pick must be called with b.mu held. Slots still starting are only chosen
// when no other slot can take the call.
func (b *Bridge) pick() *slot {
	var best, starting *slot
	bestLoad := 0
	for _, s := range b.slots {
		if s.status == slotStarting {
			if starting == nil {
				starting = s
			}
			continue
		}
		if !b.usable(s) {
			continue
		}
		load := s.table.Len()
		if best == nil || load < bestLoad || (load == bestLoad && s.status == slotRunning && best.status != slotRunning) {
			best, bestLoad = s, load
		}
	}
	if best == nil {
		return starting
	}
	return best
}

func (b *Bridge) usable(s *slot) bool {
	switch s.status {
	case slotIdle, slotRunning:
		return true
	case slotFaulted:
		return s.restarts < b.opts.maxRestarts
	}
	return false
}

// prepare must be called with b.mu held. It marks s as starting and builds
// the context that start will bring up.
func (b *Bridge) prepare(s *slot) (worker.Context, chan struct{}, bool) {
	restart := s.status == slotFaulted
	if restart {
		s.restarts++
		b.opts.observer.ContextRestart(b.family)
	}

	wctx := b.factory()
	table := correlation.NewTable[json.RawMessage]()

	wctx.OnMessage(func(resp envelope.Response) { b.receive(table, resp) })
	wctx.OnFault(func(err error) { b.fault(s, wctx, err) })

	ready := make(chan struct{})
	s.status, s.ctx, s.table = slotStarting, wctx, table
	s.ready, s.startErr = ready, nil
	return wctx, ready, restart
}

func (b *Bridge) start(ctx context.Context, s *slot, wctx worker.Context, ready chan struct{}, restart bool) error {
	// The worker's lifetime is bound to the bridge, not to one caller.
	err := wctx.Start(context.WithoutCancel(ctx))

	b.mu.Lock()
	if err == nil {
		err = s.startErr
	}
	replaced := b.stopped || s.ctx != wctx
	switch {
	case replaced:
		// Stop took the context over while it was starting.
	case err != nil:
		s.ctx, s.lastErr = nil, err
		s.status = slotFaulted
		if s.restarts >= b.opts.maxRestarts {
			s.status = slotDead
		}
	default:
		s.status = slotRunning
	}
	close(ready)
	b.mu.Unlock()

	if replaced {
		return core.NewError(core.CodeUnavailable, "%s bridge stopped", b.family)
	}
	if err != nil {
		b.logger.Warn("worker context failed to start", "slot", s.index, "restart", restart, "error", err)
		if serr := wctx.Stop(); serr != nil {
			b.logger.Debug("stopping failed worker context", "slot", s.index, "error", serr)
		}
		return core.NewError(core.CodeUnavailable, "start %s worker: %v", b.family, err)
	}
	b.logger.Debug("worker context started", "slot", s.index, "restart", restart)
	return nil
}

func (b *Bridge) receive(table *correlation.Table[json.RawMessage], resp envelope.Response) {
	var settled bool
	if resp.OK() {
		settled = table.Resolve(resp.CorrelationID, resp.Payload)
	} else {
		settled = table.Reject(resp.CorrelationID, resp.Err())
	}
	if !settled {
		b.opts.observer.StaleResponse(b.family)
		b.logger.Debug("stale response dropped", "correlation_id", resp.CorrelationID, "operation", resp.Operation)
	}
}

func (b *Bridge) fault(s *slot, wctx worker.Context, cause error) {
	b.mu.Lock()
	if s.ctx != wctx {
		b.mu.Unlock()
		b.logger.Debug("fault from replaced worker context ignored", "slot", s.index, "error", cause)
		return
	}
	if s.status == slotStarting {
		// start reports it once Start returns.
		if s.startErr == nil {
			s.startErr = cause
		}
		b.mu.Unlock()
		return
	}
	if s.status != slotRunning {
		b.mu.Unlock()
		return
	}
	table := s.table
	s.ctx, s.lastErr = nil, cause
	s.table = correlation.NewTable[json.RawMessage]()
	s.status = slotFaulted
	if s.restarts >= b.opts.maxRestarts {
		s.status = slotDead
	}
	dead := s.status == slotDead
	b.mu.Unlock()

	b.opts.observer.ContextFault(b.family)
	n := table.RejectAll(core.NewError(core.CodeUnavailable, "worker terminated: %v", cause))
	b.logger.Error("worker context faulted", "slot", s.index, "rejected", n, "permanent", dead, "error", cause)

	if err := wctx.Stop(); err != nil {
		b.logger.Debug("stopping faulted worker context", "slot", s.index, "error", err)
	}
}

// lastError must be called with b.mu held.
func (b *Bridge) lastError() error {
	for _, s := range b.slots {
		if s.lastErr != nil {
			return s.lastErr
		}
	}
	return errors.New("no context started")
}

func sendError(op envelope.Operation, err error) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return core.NewError(core.CodeUnavailable, "send %s: %v", op, err)
}

// call tracks the timers and the span of one in-flight call.
type call struct {
	b     *Bridge
	op    envelope.Operation
	start time.Time
	span  trace.Span

	mu    sync.Mutex
	done  bool
	stops []func() bool
}

func (b *Bridge) begin(ctx context.Context, req envelope.Request, slot int) *call {
	_, span := b.opts.tracer.Start(ctx, "bridge.call",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("fluxtools.family", string(b.family)),
			attribute.String("fluxtools.operation", string(req.Operation)),
			attribute.String("fluxtools.correlation_id", req.CorrelationID),
			attribute.Int("fluxtools.slot", slot),
		))
	b.opts.observer.CallStarted(b.family, req.Operation)
	return &call{b: b, op: req.Operation, start: time.Now(), span: span}
}

// arm registers a cleanup run when the call settles, or immediately if it
// already has.
func (c *call) arm(stop func() bool) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		stop()
		return
	}
	c.stops = append(c.stops, stop)
	c.mu.Unlock()
}

func (c *call) finish(err error) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	stops := c.stops
	c.stops = nil
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}

	outcome := OutcomeOK
	if err != nil {
		outcome = string(core.CodeOf(err))
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	} else {
		c.span.SetStatus(codes.Ok, "")
	}
	c.span.SetAttributes(attribute.String("fluxtools.outcome", outcome))
	c.span.End()

	c.b.opts.observer.CallFinished(c.b.family, c.op, outcome, time.Since(c.start))
}
