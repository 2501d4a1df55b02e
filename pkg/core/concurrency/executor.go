package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/fluxtools/pkg/core"
)

var (
	// ErrExecutorClosed is returned by Submit after Shutdown
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrExecutorFull is returned when the task queue is full (backpressure)
	ErrExecutorFull = errors.New("executor queue is full")
)

// ExecutorConfig configures an Executor
type ExecutorConfig struct {
	Workers   int // Number of worker goroutines
	QueueSize int // Bounded queue size
	Name      string
	Logger    core.Logger
}

// DefaultExecutorConfig returns 4 workers and a queue of 256 tasks.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{Workers: 4, QueueSize: 256, Name: "executor"}
}

// ExecutorStats is a snapshot of executor counters
type ExecutorStats struct {
	Workers   int
	Queued    int
	Capacity  int
	Completed int64
	Failed    int64
	Rejected  int64
	Panicked  int64
}

// Executor runs tasks on a fixed set of goroutines fed by a bounded queue.
// A panicking task is recovered and counted; the worker keeps running.
type Executor struct {
	name   string
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger core.Logger

	mu     sync.RWMutex
	closed bool

	workers   int
	completed int64
	failed    int64
	rejected  int64
	panicked  int64
}

// NewExecutor starts the worker goroutines. They stop when ctx is cancelled
// or Shutdown is called.
func NewExecutor(ctx context.Context, cfg ExecutorConfig) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	if cfg.Name == "" {
		cfg.Name = "executor"
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Executor{
		name:    cfg.Name,
		tasks:   make(chan Task, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  cfg.Logger,
		workers: cfg.Workers,
	}

	e.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go e.worker(i)
	}
	return e
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()

	for {
		select {
		case task, ok := <-e.tasks:
			if !ok {
				return
			}
			e.run(id, task)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Executor) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&e.panicked, 1)
			e.logger.Error("task panicked", "executor", e.name, "worker", id, "task", task.Name(), "panic", fmt.Sprint(r))
		}
	}()

	if err := task.Execute(e.ctx); err != nil {
		atomic.AddInt64(&e.failed, 1)
		e.logger.Warn("task failed", "executor", e.name, "worker", id, "task", task.Name(), "error", err)
		return
	}
	atomic.AddInt64(&e.completed, 1)
}

// Submit queues a task without blocking.
func (e *Executor) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrExecutorClosed
	}
	if err := e.ctx.Err(); err != nil {
		return ErrExecutorClosed
	}

	select {
	case e.tasks <- task:
		return nil
	default:
		atomic.AddInt64(&e.rejected, 1)
		return ErrExecutorFull
	}
}

// Shutdown stops accepting tasks, cancels the context handed to running
// tasks and waits for the workers to exit or ctx to expire. Queued tasks
// that have not started are dropped.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancel()
	close(e.tasks)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Workers:   e.workers,
		Queued:    len(e.tasks),
		Capacity:  cap(e.tasks),
		Completed: atomic.LoadInt64(&e.completed),
		Failed:    atomic.LoadInt64(&e.failed),
		Rejected:  atomic.LoadInt64(&e.rejected),
		Panicked:  atomic.LoadInt64(&e.panicked),
	}
}
