package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/core/concurrency"
	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/envelope"
)

// LocalConfig configures a LocalContext
type LocalConfig struct {
	Name      string // Used in logs and task names
	Workers   int    // Operations computed concurrently
	QueueSize int    // Inbox capacity; Send fails with backpressure beyond it
	Logger    core.Logger
}

// DefaultLocalConfig returns 4 workers and an inbox of 256 requests.
func DefaultLocalConfig(name string) LocalConfig {
	return LocalConfig{Name: name, Workers: 4, QueueSize: 256}
}

// LocalContext is an in-process worker context. Requests are queued in a
// bounded inbox, computed on an executor so a slow operation does not hold
// up the others, and their responses are delivered serially to OnMessage.
type LocalContext struct {
	cfg    LocalConfig
	mux    *Mux
	logger core.Logger

	mu        sync.Mutex
	state     state
	onMessage func(envelope.Response)
	onFault   func(error)
	inbox     *concurrency.Mailbox[envelope.Request]
	executor  *concurrency.Executor
	cancel    context.CancelFunc
	unwatch   func() bool

	deliverMu sync.Mutex
}

// NewLocalContext creates an unstarted context serving the operations
// registered on mux.
func NewLocalContext(mux *Mux, cfg LocalConfig) *LocalContext {
	failfast.NotNil(mux, "mux")
	if cfg.Name == "" {
		cfg.Name = "local"
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}
	return &LocalContext{
		cfg:    cfg,
		mux:    mux,
		logger: cfg.Logger.With("worker", cfg.Name),
	}
}

// LocalFactory returns a Factory producing LocalContexts over mux.
func LocalFactory(mux *Mux, cfg LocalConfig) Factory {
	return func() Context { return NewLocalContext(mux, cfg) }
}

func (c *LocalContext) OnMessage(fn func(envelope.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *LocalContext) OnFault(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFault = fn
}

// Start brings the context up. Cancelling ctx later faults the context.
func (c *LocalContext) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateIdle {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start %s: %w", c.cfg.Name, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.inbox = concurrency.NewMailbox[envelope.Request](c.cfg.QueueSize)
	c.executor = concurrency.NewExecutor(runCtx, concurrency.ExecutorConfig{
		Workers:   c.cfg.Workers,
		QueueSize: c.cfg.QueueSize,
		Name:      c.cfg.Name,
		Logger:    c.logger,
	})
	c.unwatch = context.AfterFunc(ctx, func() {
		c.fault(fmt.Errorf("%w: host context done: %v", ErrContextDead, ctx.Err()))
	})
	c.state = stateRunning

	go c.dispatch(runCtx, c.inbox, c.executor)

	c.logger.Debug("worker context started", "workers", c.cfg.Workers, "queue", c.cfg.QueueSize)
	return nil
}

// Send queues req. It never blocks.
func (c *LocalContext) Send(req envelope.Request) error {
	c.mu.Lock()
	st, inbox := c.state, c.inbox
	c.mu.Unlock()

	if err := st.sendError(); err != nil {
		return err
	}

	switch err := inbox.Send(req); {
	case err == nil:
		return nil
	case errors.Is(err, concurrency.ErrMailboxFull):
		return core.NewError(core.CodeBackpressure, "%s: inbox full (%d queued)", c.cfg.Name, inbox.Cap())
	case errors.Is(err, concurrency.ErrMailboxClosed):
		return ErrContextDead
	default:
		return err
	}
}

// Kill faults the context as if its execution unit had crashed.
func (c *LocalContext) Kill(cause error) {
	if cause == nil {
		cause = errors.New("killed")
	}
	c.fault(fmt.Errorf("%w: %v", ErrContextDead, cause))
}

// Stop releases the context. Queued requests are discarded and responses
// still being computed are not delivered.
func (c *LocalContext) Stop() error {
	c.mu.Lock()
	prev := c.state
	if prev == stateStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = stateStopped
	c.mu.Unlock()

	if prev == stateIdle {
		return nil
	}
	c.release()
	c.logger.Debug("worker context stopped")
	return nil
}

// Stats returns the executor counters, or zero values before Start.
func (c *LocalContext) Stats() concurrency.ExecutorStats {
	c.mu.Lock()
	exec := c.executor
	c.mu.Unlock()
	if exec == nil {
		return concurrency.ExecutorStats{}
	}
	return exec.Stats()
}

func (c *LocalContext) dispatch(ctx context.Context, inbox *concurrency.Mailbox[envelope.Request], exec *concurrency.Executor) {
	for {
		req, err := inbox.Receive(ctx)
		if err != nil {
			return
		}

		task := concurrency.NewNamedTask(string(req.Operation), func(taskCtx context.Context) error {
			resp, fatal := c.mux.Dispatch(taskCtx, req)
			if fatal != nil {
				c.fault(fmt.Errorf("%s: %w", req.Operation, fatal))
				return nil
			}
			c.deliver(resp)
			return nil
		})

		if err := exec.Submit(task); err != nil {
			if errors.Is(err, concurrency.ErrExecutorClosed) {
				return
			}
			c.deliver(envelope.Fail(req, core.NewError(core.CodeBackpressure, "%s: executor queue full", c.cfg.Name)))
		}
	}
}

func (c *LocalContext) deliver(resp envelope.Response) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	running, fn := c.state == stateRunning, c.onMessage
	c.mu.Unlock()

	if !running || fn == nil {
		c.logger.Debug("response dropped", "operation", resp.Operation, "correlation_id", resp.CorrelationID)
		return
	}
	fn(resp)
}

func (c *LocalContext) fault(err error) {
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

func (c *LocalContext) release() {
	c.mu.Lock()
	cancel, inbox, exec, unwatch := c.cancel, c.inbox, c.executor, c.unwatch
	c.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if cancel != nil {
		cancel()
	}
	if inbox != nil {
		inbox.Close()
	}
	if exec != nil {
		go func() {
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := exec.Shutdown(ctx); err != nil {
				c.logger.Warn("executor shutdown", "error", err)
			}
		}()
	}
}
