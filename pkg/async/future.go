// Package async provides a single-assignment Promise/Future pair.
//
// A Promise settles at most once, with either a value or an error; every
// later Complete or Fail is a no-op that reports false. The Future is the
// read side handed to callers: Await blocks until settlement or ctx is
// done, OnComplete registers a callback that runs exactly once.
//
// Callbacks registered before settlement run on a goroutine of their own,
// never on the goroutine that settles the promise.
package async

import (
	"context"
	"sync"
)

// Promise is the write side of a Future.
type Promise[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     T
	err       error
	callbacks []func(T, error)
}

// Future is the read side of a Promise.
type Future[T any] struct {
	p *Promise[T]
}

// NewPromise creates an unsettled promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Completed returns a future already settled with v.
func Completed[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.Complete(v)
	return p.Future()
}

// Failed returns a future already settled with err.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.Fail(err)
	return p.Future()
}

// Future returns the read side.
func (p *Promise[T]) Future() *Future[T] {
	return &Future[T]{p: p}
}

// Complete settles the promise with v. It reports whether this call
// performed the settlement.
func (p *Promise[T]) Complete(v T) bool {
	return p.settle(v, nil)
}

// Fail settles the promise with err. It reports whether this call performed
// the settlement.
func (p *Promise[T]) Fail(err error) bool {
	var zero T
	return p.settle(zero, err)
}

func (p *Promise[T]) settle(v T, err error) bool {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return false
	}
	p.settled = true
	p.value, p.err = v, err
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	if len(callbacks) > 0 {
		go run(callbacks, v, err)
	}
	return true
}

func run[T any](callbacks []func(T, error), v T, err error) {
	for _, cb := range callbacks {
		cb(v, err)
	}
}

// Await blocks until the future settles or ctx is done. A done ctx does not
// settle the future.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.p.done:
		return f.p.value, f.p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.p.done
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Result() (T, bool, error) {
	select {
	case <-f.p.done:
		return f.p.value, true, f.p.err
	default:
		var zero T
		return zero, false, nil
	}
}

// OnComplete registers fn to run once with the outcome. If the future has
// already settled fn runs immediately on the calling goroutine; otherwise it
// runs after settlement on a separate goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) *Future[T] {
	p := f.p
	p.mu.Lock()
	if !p.settled {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return f
	}
	v, err := p.value, p.err
	p.mu.Unlock()

	fn(v, err)
	return f
}

// Then maps a successful value through fn. Failures pass through unchanged.
func Then[T, R any](f *Future[T], fn func(T) (R, error)) *Future[R] {
	next := NewPromise[R]()
	f.OnComplete(func(v T, err error) {
		if err != nil {
			next.Fail(err)
			return
		}
		r, err := fn(v)
		if err != nil {
			next.Fail(err)
			return
		}
		next.Complete(r)
	})
	return next.Future()
}

// All settles with every value in order, or with the first error observed.
func All[T any](futures ...*Future[T]) *Future[[]T] {
	out := NewPromise[[]T]()
	if len(futures) == 0 {
		out.Complete(nil)
		return out.Future()
	}

	var mu sync.Mutex
	results := make([]T, len(futures))
	remaining := len(futures)
	for i, f := range futures {
		i := i
		f.OnComplete(func(v T, err error) {
			if err != nil {
				out.Fail(err)
				return
			}
			mu.Lock()
			results[i] = v
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				out.Complete(results)
			}
		})
	}
	return out.Future()
}
