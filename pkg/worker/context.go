package worker

import (
	"context"
	"errors"

	"github.com/fluxorio/fluxtools/pkg/envelope"
)

var (
	// ErrContextDead is returned by Send after the context has faulted
	ErrContextDead = errors.New("worker context is dead")

	// ErrContextStopped is returned by Send after Stop
	ErrContextStopped = errors.New("worker context is stopped")

	// ErrNotStarted is returned by Send before Start
	ErrNotStarted = errors.New("worker context is not started")

	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("worker context already started")

	// ErrFatal marks a handler error that leaves the context unusable.
	// Handlers wrap it to turn a failure into a context fault.
	ErrFatal = errors.New("worker context is no longer usable")

	// ErrWorkerLost is the fault raised when a remote worker stops answering
	ErrWorkerLost = errors.New("worker process lost")
)

// Context is a worker execution context.
//
// OnMessage and OnFault are registered before Start. OnMessage is called
// serially, once per response, in completion order. OnFault is called at
// most once; afterwards Send returns ErrContextDead. Stop is idempotent and
// drains nothing.
type Context interface {
	Start(ctx context.Context) error
	Send(req envelope.Request) error
	OnMessage(fn func(envelope.Response))
	OnFault(fn func(error))
	Stop() error
}

// Factory builds a fresh, unstarted Context.
type Factory func() Context

type state int

const (
	stateIdle state = iota
	stateRunning
	stateDead
	stateStopped
)

func (s state) sendError() error {
	switch s {
	case stateIdle:
		return ErrNotStarted
	case stateDead:
		return ErrContextDead
	case stateStopped:
		return ErrContextStopped
	}
	return nil
}
