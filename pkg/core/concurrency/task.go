package concurrency

import "context"

// Task represents a unit of work run by an Executor.
type Task interface {
	// Execute performs the work. ctx is cancelled when the executor shuts down.
	Execute(ctx context.Context) error

	// Name is used in logs
	Name() string
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

func (f TaskFunc) Name() string { return "task" }

// NamedTask is a TaskFunc with a name.
type NamedTask struct {
	name string
	fn   TaskFunc
}

// NewNamedTask creates a NamedTask.
func NewNamedTask(name string, fn TaskFunc) *NamedTask {
	return &NamedTask{name: name, fn: fn}
}

func (t *NamedTask) Execute(ctx context.Context) error { return t.fn(ctx) }

func (t *NamedTask) Name() string { return t.name }
