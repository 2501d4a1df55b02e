package bridge

import (
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCallTimeout bounds a call when WithCallTimeout is not given.
const DefaultCallTimeout = 30 * time.Second

const tracerName = "github.com/fluxorio/fluxtools/pkg/bridge"

type options struct {
	contexts    int
	timeout     time.Duration
	maxRestarts int
	logger      core.Logger
	observer    Observer
	tracer      trace.Tracer
}

func defaultOptions() options {
	return options{
		contexts:    1,
		timeout:     DefaultCallTimeout,
		maxRestarts: 1,
		logger:      core.NewNopLogger(),
		observer:    NopObserver{},
		tracer:      otel.Tracer(tracerName),
	}
}

// Option configures a Bridge.
type Option func(*options)

// WithContexts sets the number of worker context slots. Values below 1 are
// treated as 1.
func WithContexts(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.contexts = n
	}
}

// WithCallTimeout bounds every call. 0 disables the timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.timeout = d
	}
}

// WithMaxRestarts sets how many times a faulted slot is replaced before it
// is given up for good.
func WithMaxRestarts(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.maxRestarts = n
	}
}

func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}
