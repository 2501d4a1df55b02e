// Package security adds response hardening headers and per-client rate
// limits to API routes.
package security

import (
	"strconv"

	"github.com/fluxorio/fluxtools/pkg/web"
)

// HeadersConfig configures security headers. Empty values are not sent.
type HeadersConfig struct {
	HSTSMaxAge                int // seconds; 0 disables HSTS
	HSTSIncludeSub            bool
	CSP                       string
	XFrameOptions             string
	XContentTypeOptions       bool
	ReferrerPolicy            string
	CrossOriginResourcePolicy string
	CustomHeaders             map[string]string
}

// DefaultHeadersConfig returns headers suited to a JSON API.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		HSTSMaxAge:                31536000, // 1 year
		HSTSIncludeSub:            true,
		CSP:                       "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
		XFrameOptions:             "DENY",
		XContentTypeOptions:       true,
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "same-origin",
	}
}

// Headers middleware adds security headers to responses
func Headers(config HeadersConfig) web.Middleware {
	headers := make(map[string]string)
	if config.HSTSMaxAge > 0 {
		v := "max-age=" + strconv.Itoa(config.HSTSMaxAge)
		if config.HSTSIncludeSub {
			v += "; includeSubDomains"
		}
		headers["Strict-Transport-Security"] = v
	}
	set := func(k, v string) {
		if v != "" {
			headers[k] = v
		}
	}
	set("Content-Security-Policy", config.CSP)
	set("X-Frame-Options", config.XFrameOptions)
	if config.XContentTypeOptions {
		headers["X-Content-Type-Options"] = "nosniff"
	}
	set("Referrer-Policy", config.ReferrerPolicy)
	set("Cross-Origin-Resource-Policy", config.CrossOriginResourcePolicy)
	for k, v := range config.CustomHeaders {
		headers[k] = v
	}

	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			for k, v := range headers {
				ctx.RequestCtx.Response.Header.Set(k, v)
			}
			return next(ctx)
		}
	}
}
