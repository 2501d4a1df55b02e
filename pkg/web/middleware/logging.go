package middleware

import (
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/web"
)

// Logging logs one line per request at info, or warn for 5xx responses.
func Logging(logger core.Logger) web.Middleware {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			start := time.Now()
			err := next(ctx)

			status := ctx.RequestCtx.Response.StatusCode()
			if err != nil {
				status = web.StatusFor(core.CodeOf(err))
			}
			kv := []interface{}{
				"request_id", ctx.RequestID(),
				"method", ctx.Method(),
				"route", ctx.Route(),
				"status", status,
				"duration", time.Since(start),
			}
			if err != nil {
				kv = append(kv, "error", err)
			}
			if status >= 500 {
				logger.Warn("request failed", kv...)
			} else {
				logger.Info("request", kv...)
			}
			return err
		}
	}
}
