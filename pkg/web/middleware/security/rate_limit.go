package security

import (
	"sync"
	"time"

	"github.com/fluxorio/fluxtools/pkg/core"
	"github.com/fluxorio/fluxtools/pkg/web"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client rate limiting
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int

	// KeyFunc identifies the client; the remote IP by default
	KeyFunc func(ctx *web.RequestContext) string

	// IdleTTL drops limiters of clients idle for longer (default 10m)
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns 20 requests per second with a burst of 40.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 20, Burst: 40}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client key.
type RateLimiter struct {
	config RateLimitConfig

	mu      sync.Mutex
	clients map[string]*clientLimiter
	sweep   time.Time
}

// NewRateLimiter creates a limiter set for config.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.KeyFunc == nil {
		config.KeyFunc = func(ctx *web.RequestContext) string {
			return ctx.RequestCtx.RemoteIP().String()
		}
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{config: config, clients: make(map[string]*clientLimiter), sweep: time.Now()}
}

// Allow consumes one token of key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	if now.Sub(rl.sweep) > rl.config.IdleTTL {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > rl.config.IdleTTL {
				delete(rl.clients, k)
			}
		}
		rl.sweep = now
	}
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects requests over the client's rate with a backpressure
// error (429).
func (rl *RateLimiter) Middleware() web.Middleware {
	return func(next web.Handler) web.Handler {
		return func(ctx *web.RequestContext) error {
			if !rl.Allow(rl.config.KeyFunc(ctx)) {
				ctx.RequestCtx.Response.Header.Set("Retry-After", "1")
				return core.NewError(core.CodeBackpressure, "rate limit exceeded")
			}
			return next(ctx)
		}
	}
}

// RateLimit builds a RateLimiter and returns its middleware.
func RateLimit(config RateLimitConfig) web.Middleware {
	return NewRateLimiter(config).Middleware()
}
