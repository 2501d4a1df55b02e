package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fluxorio/fluxtools/pkg/async"
	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// Decode maps a raw call future to a typed one.
func Decode[T any](f *async.Future[json.RawMessage]) *async.Future[T] {
	return async.Then(f, decodeResult[T])
}

// Await waits for f and decodes its result into T.
func Await[T any](ctx context.Context, f *async.Future[json.RawMessage]) (T, error) {
	raw, err := Wait(ctx, f)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeResult[T](raw)
}

// Wait waits for any future. Giving up on ctx yields the cancelled or
// timeout *core.Error; the future itself keeps running.
func Wait[T any](ctx context.Context, f *async.Future[T]) (T, error) {
	v, err := f.Await(ctx)
	if err != nil {
		return v, waitError(err)
	}
	return v, nil
}

// Invoke calls op on b and waits for the typed result.
func Invoke[T any](ctx context.Context, b *Bridge, op envelope.Operation, payload interface{}) (T, error) {
	return Await[T](ctx, b.Call(ctx, op, payload))
}

func decodeResult[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := envelope.DecodePayload(raw, &out); err != nil {
		return out, core.NewError(core.CodeInternal, "decode result: %v", err)
	}
	return out, nil
}

// waitError gives a caller giving up on the wait the same codes as a call
// cancelled or timed out by the bridge.
func waitError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return core.NewError(core.CodeCancelled, "wait: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewError(core.CodeTimeout, "wait: %v", err)
	}
	return err
}
