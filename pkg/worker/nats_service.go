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
	"github.com/nats-io/nats.go"
)

// ServiceConfig configures the worker-process side of a NATS context.
type ServiceConfig struct {
	Prefix    string
	Workers   int
	QueueSize int
	Logger    core.Logger
}

// NATSService computes requests published by NATSContexts. Several
// services for the same family share the load through a queue group.
type NATSService struct {
	family   envelope.Family
	mux      *Mux
	nc       *nats.Conn
	executor *concurrency.Executor
	logger   core.Logger

	reqSub  *nats.Subscription
	pingSub *nats.Subscription

	once sync.Once
	done chan struct{}
	err  error
}

// ServeNATS subscribes a service for family on nc. The service stops when
// ctx is done, Close is called, or a handler reports ErrFatal.
func ServeNATS(ctx context.Context, nc *nats.Conn, family envelope.Family, mux *Mux, cfg ServiceConfig) (*NATSService, error) {
	failfast.NotNil(nc, "nats connection")
	failfast.NotNil(mux, "mux")

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Workers == 0 && cfg.QueueSize == 0 {
		cfg.Workers, cfg.QueueSize = 16, 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}

	logger := cfg.Logger.With("service", "nats", "family", string(family))
	s := &NATSService{
		family: family,
		mux:    mux,
		nc:     nc,
		logger: logger,
		done:   make(chan struct{}),
		executor: concurrency.NewExecutor(ctx, concurrency.ExecutorConfig{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			Name:      "nats-" + string(family),
			Logger:    logger,
		}),
	}

	group := queueGroup(cfg.Prefix, family)
	var err error
	if s.reqSub, err = nc.QueueSubscribe(requestSubject(cfg.Prefix, family), group, s.handle); err != nil {
		s.shutdown(nil)
		return nil, fmt.Errorf("subscribe requests: %w", err)
	}
	if s.pingSub, err = nc.QueueSubscribe(pingSubject(cfg.Prefix, family), group, s.pong); err != nil {
		s.shutdown(nil)
		return nil, fmt.Errorf("subscribe pings: %w", err)
	}
	if err := nc.Flush(); err != nil {
		s.shutdown(nil)
		return nil, fmt.Errorf("flush subscriptions: %w", err)
	}

	context.AfterFunc(ctx, func() { s.shutdown(nil) })

	logger.Info("worker service listening", "subject", requestSubject(cfg.Prefix, family), "queue", group, "operations", len(mux.Operations()))
	return s, nil
}

// Done is closed once the service has stopped.
func (s *NATSService) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that stopped the service, if any.
func (s *NATSService) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close unsubscribes the service and waits briefly for running requests.
func (s *NATSService) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *NATSService) handle(m *nats.Msg) {
	if m.Reply == "" {
		s.logger.Warn("request without reply subject dropped", "subject", m.Subject)
		return
	}
	req, err := envelope.DecodeRequest(m.Data)
	if err != nil {
		s.logger.Warn("undecodable request dropped", "error", err)
		return
	}

	task := concurrency.NewNamedTask(string(req.Operation), func(ctx context.Context) error {
		resp, fatal := s.mux.Dispatch(ctx, req)
		s.reply(m, resp)
		if fatal != nil {
			s.shutdown(fmt.Errorf("%s: %w", req.Operation, fatal))
		}
		return nil
	})

	if err := s.executor.Submit(task); err != nil {
		code := core.CodeBackpressure
		if errors.Is(err, concurrency.ErrExecutorClosed) {
			code = core.CodeUnavailable
		}
		s.reply(m, envelope.Fail(req, core.NewError(code, "%s worker: %v", s.family, err)))
	}
}

func (s *NATSService) reply(m *nats.Msg, resp envelope.Response) {
	data, err := envelope.EncodeResponse(resp)
	if err != nil {
		s.logger.Error("encode response", "correlation_id", resp.CorrelationID, "error", err)
		return
	}
	if err := m.Respond(data); err != nil {
		s.logger.Warn("publish response", "correlation_id", resp.CorrelationID, "error", err)
	}
}

func (s *NATSService) pong(m *nats.Msg) {
	if m.Reply == "" {
		return
	}
	_ = m.Respond([]byte("pong"))
}

func (s *NATSService) shutdown(cause error) {
	s.once.Do(func() {
		if s.reqSub != nil {
			_ = s.reqSub.Unsubscribe()
		}
		if s.pingSub != nil {
			_ = s.pingSub.Unsubscribe()
		}
		s.err = cause
		if cause != nil {
			s.logger.Error("worker service stopped", "error", cause)
		} else {
			s.logger.Info("worker service stopped")
		}
		close(s.done)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.executor.Shutdown(ctx)
		}()
	})
}
