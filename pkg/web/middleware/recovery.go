// Package middleware holds the cross-cutting web.Middleware of the API.
package middleware

import (
	"fmt"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/web"
)

// RecoveryConfig configures panic recovery middleware
type RecoveryConfig struct {
	Logger core.Logger

	// StackTrace puts the panic value in the error message. Do not enable
	// in production.
	StackTrace bool
}

// Recovery turns a handler panic into an internal error response.
func Recovery(config RecoveryConfig) web.Middleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewNopLogger()
	}

	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic recovered",
						"request_id", ctx.RequestID(),
						"method", ctx.Method(),
						"path", ctx.Path(),
						"panic", r)

					msg := "internal server error"
					if config.StackTrace {
						msg = fmt.Sprintf("panic: %v", r)
					}
					err = core.NewError(core.CodeInternal, "%s", msg)
				}
			}()
			return next(ctx)
		}
	}
}
