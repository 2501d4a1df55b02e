package concurrency

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrMailboxClosed is returned when sending to, or receiving from a
	// drained, closed mailbox
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxFull is returned when sending to a full mailbox (backpressure)
	ErrMailboxFull = errors.New("mailbox is full")
)

// Mailbox is a bounded FIFO of T with non-blocking sends.
// Channel handling stays inside the package.
type Mailbox[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool
}

// NewMailbox creates a mailbox holding at most capacity items.
func NewMailbox[T any](capacity int) *Mailbox[T] {
	if capacity < 1 {
		capacity = 100
	}
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// Send enqueues msg without blocking.
func (mb *Mailbox[T]) Send(msg T) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed {
		return ErrMailboxClosed
	}
	select {
	case mb.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Receive blocks until an item is available, ctx is done, or the mailbox is
// closed and drained. Items queued before Close are still delivered.
func (mb *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return zero, ErrMailboxClosed
		}
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops accepting new items. Safe to call more than once.
func (mb *Mailbox[T]) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if !mb.closed {
		mb.closed = true
		close(mb.ch)
	}
}

// IsClosed reports whether Close has been called.
func (mb *Mailbox[T]) IsClosed() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.closed
}

// Len returns the number of queued items.
func (mb *Mailbox[T]) Len() int { return len(mb.ch) }

// Cap returns the mailbox capacity.
func (mb *Mailbox[T]) Cap() int { return cap(mb.ch) }
