// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between packages are keyed here so that
// producers and consumers agree on types.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithPrincipal(ctx, userID)
//	userID, ok := contextkeys.Principal(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains the authenticated user id
	// Set by: httputil.TrustedHeaderPrincipal or an embedding application's auth layer
	// Required by: rbac.RequireAuth, rbac.RequireAccess, the /rbac admin API
	// Type: string
	PrincipalKey Key = "principal"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestID
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestLogger
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// DecisionKey contains the rbac.Decision that admitted the request
	// Set by: rbac.RequireAccess
	// Used by: Handlers that vary their response for owners
	// Type: rbac.Decision
	DecisionKey Key = "access_decision"
)

// WithPrincipal adds the authenticated user id to the context
func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, PrincipalKey, userID)
}

// Principal returns the authenticated user id. An empty id counts as absent.
func Principal(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(PrincipalKey).(string)
	return userID, ok && userID != ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID returns the request ID or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
