package middleware

import (
	"context"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core/failfast"
	"github.com/fluxorio/fluxtools/pkg/web"
)

// Timeout bounds the request context. Handlers waiting on a bridge call
// see the deadline and answer with a timeout error.
func Timeout(timeout time.Duration) web.Middleware {
	failfast.If(timeout > 0, "timeout duration must be positive")

	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			parent := ctx.Context()
			tctx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()

			ctx.SetContext(tctx)
			defer ctx.SetContext(parent)
			return next(ctx)
		}
	}
}
