// Package requestctx carries per-request values through handler contexts:
// the middleware-assigned request ID and, when token auth is enabled, the
// verified grant for the connection.
package requestctx

import (
	"context"

	"github.com/burrowlabs/burrow/internal/auth"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	grantKey     contextKey = "grant"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func WithGrant(ctx context.Context, grant *auth.Grant) context.Context {
	return context.WithValue(ctx, grantKey, grant)
}

// Grant returns the verified grant for the request, or nil when auth is
// disabled or the request carried no token.
func Grant(ctx context.Context) *auth.Grant {
	if g, ok := ctx.Value(grantKey).(*auth.Grant); ok {
		return g
	}
	return nil
}

// Subject is a logging convenience: the grant subject, or empty.
func Subject(ctx context.Context) string {
	if g := Grant(ctx); g != nil {
		return g.Subject
	}
	return ""
}
