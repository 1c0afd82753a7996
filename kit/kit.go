// Package kit is the transport-neutral endpoint shape shared by the HTTP
// front door and the MCP tools: one function from a decoded request to a
// response, wrapped by middleware.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middleware; the first one is the outermost.
func Chain(outer ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(outer) - 1; i >= 0; i-- {
			next = outer[i](next)
		}
		return next
	}
}

// Logging logs each call of the endpoint named name with its transport,
// request id and duration. Failures are logged at Warn.
func Logging(log *slog.Logger, name string) Middleware {
	if log == nil {
		log = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if err != nil {
				log.Warn("kit: endpoint failed", append(attrs, "error", err)...)
				return resp, err
			}
			log.Info("kit: endpoint", attrs...)
			return resp, nil
		}
	}
}
