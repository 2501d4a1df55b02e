// Package correlation tracks in-flight calls by correlation id.
//
// The send path allocates an id and registers the caller's continuation;
// the receive path resolves or rejects it. Lookups remove the entry, so a
// second resolution of the same id is a no-op and a continuation never
// runs twice.
package correlation

import (
	"sync"

	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/google/uuid"
)

// Continuation is the means of settling one logical call.
type Continuation[T any] struct {
	Resolve func(T)
	Reject  func(error)
}

// Table maps correlation ids to continuations. It is safe for concurrent
// use; continuations are invoked outside the lock.
type Table[T any] struct {
	mu      sync.Mutex
	pending map[string]Continuation[T]
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{pending: make(map[string]Continuation[T])}
}

// Allocate returns a random 128-bit id not currently pending.
func (t *Table[T]) Allocate() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		id := uuid.NewString()
		if _, taken := t.pending[id]; !taken {
			return id
		}
	}
}

// Register stores c under id. Registering an id twice is a programmer
// error and panics.
func (t *Table[T]) Register(id string, c Continuation[T]) {
	failfast.If(id != "", "correlation id cannot be empty")
	failfast.NotNil(c.Resolve, "continuation resolve")
	failfast.NotNil(c.Reject, "continuation reject")

	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.pending[id]
	failfast.If(!exists, "correlation id %s already registered", id)
	t.pending[id] = c
}

// Resolve removes id and runs its success path. It reports false for
// unknown or already settled ids.
func (t *Table[T]) Resolve(id string, result T) bool {
	c, ok := t.take(id)
	if !ok {
		return false
	}
	c.Resolve(result)
	return true
}

// Reject removes id and runs its failure path. It reports false for
// unknown or already settled ids.
func (t *Table[T]) Reject(id string, err error) bool {
	c, ok := t.take(id)
	if !ok {
		return false
	}
	c.Reject(err)
	return true
}

// RejectAll drains the table, failing every pending call with err, and
// returns how many calls were failed.
func (t *Table[T]) RejectAll(err error) int {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[string]Continuation[T])
	t.mu.Unlock()

	for _, c := range drained {
		c.Reject(err)
	}
	return len(drained)
}

// Pending reports whether id is still waiting for settlement.
func (t *Table[T]) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Len returns the number of pending calls.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Table[T]) take(id string) (Continuation[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return c, ok
}
