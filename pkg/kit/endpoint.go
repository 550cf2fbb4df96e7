package kit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic action. HTTP handlers and MCP tools both
// dispatch to the same Endpoints.
type Endpoint func(ctx context.Context, request any) (response any, err error)

// Middleware wraps an Endpoint with a cross-cutting concern.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first is outermost.
// Chain(a, b, c)(endpoint) == a(b(c(endpoint)))
func Chain(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}

// Logging logs every call of the endpoint named name at debug level, and
// failures at warn.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, request)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn("endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("endpoint served", attrs...)
			}
			return resp, err
		}
	}
}

// Recover turns a panic in the endpoint into an error.
func Recover() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, request any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("endpoint panic: %v", r)
				}
			}()
			return next(ctx, request)
		}
	}
}
