package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/memcrypt/console-gateway/authz"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// PrincipalKey is the context key for the verified principal
	PrincipalKey contextKey = "principal"
)

// Headers carrying the principal to downstream handlers. Inbound values are
// always discarded before authentication.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
	HeaderUserOrg   = "X-User-Org"
)

// GetRequestIDFromContext retrieves the request ID from context, falling back
// to the id assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetPrincipalFromContext retrieves the verified principal from context
func GetPrincipalFromContext(ctx context.Context) (authz.Principal, bool) {
	if val := ctx.Value(PrincipalKey); val != nil {
		if principal, ok := val.(authz.Principal); ok {
			return principal, true
		}
	}
	return authz.Principal{}, false
}

// WithPrincipal adds the verified principal to the context
func WithPrincipal(ctx context.Context, principal authz.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}
