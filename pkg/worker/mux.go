package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// Handler computes one operation from its JSON payload.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	return f(ctx, payload)
}

// Typed adapts a typed function to Handler. The payload is decoded into Req;
// a decode failure is reported as core.CodeMalformedPayload.
func Typed[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	failfast.NotNil(fn, "typed handler")
	return HandlerFunc(func(ctx context.Context, payload json.RawMessage) (interface{}, error) {
		var req Req
		if err := envelope.DecodePayload(payload, &req); err != nil {
			return nil, err
		}
		return fn(ctx, req)
	})
}

// Mux routes requests to the handler registered for their operation.
type Mux struct {
	mu       sync.RWMutex
	handlers map[envelope.Operation]Handler
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[envelope.Operation]Handler)}
}

// Handle registers h for op. Unknown operations and duplicates panic.
func (m *Mux) Handle(op envelope.Operation, h Handler) {
	failfast.If(op.Valid(), "cannot register handler for unknown operation %q", op)
	failfast.NotNil(h, "handler")

	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.handlers[op]
	failfast.If(!exists, "handler for %s already registered", op)
	m.handlers[op] = h
}

// HandleFunc registers fn for op.
func (m *Mux) HandleFunc(op envelope.Operation, fn func(ctx context.Context, payload json.RawMessage) (interface{}, error)) {
	m.Handle(op, HandlerFunc(fn))
}

// Operations lists the registered operations.
func (m *Mux) Operations() []envelope.Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]envelope.Operation, 0, len(m.handlers))
	for op := range m.handlers {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Dispatch runs req through its handler and always returns a response for
// it. fatal is non-nil when the handler reported ErrFatal; the caller must
// then treat its context as faulted.
func (m *Mux) Dispatch(ctx context.Context, req envelope.Request) (resp envelope.Response, fatal error) {
	m.mu.RLock()
	h, ok := m.handlers[req.Operation]
	m.mu.RUnlock()

	if !ok {
		return envelope.Fail(req, core.NewError(core.CodeUnknownOperation, "unknown operation %q", req.Operation)), nil
	}

	defer func() {
		if r := recover(); r != nil {
			resp = envelope.Fail(req, core.NewError(core.CodeInternal, "%s panicked: %v", req.Operation, r))
			fatal = nil
		}
	}()

	result, err := h.Handle(ctx, req.Payload)
	if err != nil {
		if errors.Is(err, ErrFatal) {
			return envelope.Fail(req, err), err
		}
		return envelope.Fail(req, classify(err)), nil
	}
	return envelope.Succeed(req, result), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", core.ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	return err
}
