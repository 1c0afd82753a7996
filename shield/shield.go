// Package shield is the HTTP middleware in front of the invoke endpoint:
// security headers, a body limit, request tracing and per-client rate
// limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(64<<10, shield.NewRateLimiter(rules, "/healthz")) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultStack returns the middleware stack, outermost first:
// SecurityHeaders → MaxBody → TraceID → RateLimiter. A nil rl skips rate
// limiting.
func DefaultStack(maxBody int64, rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}
