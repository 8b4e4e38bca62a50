// Package contextkeys provides centralized context key definitions
//
// All context keys used across the module are defined here so that the
// producer and every consumer agree on one typed key.
//
//	ctx = contextkeys.WithSessionID(ctx, r.Header.Get("X-Session-ID"))
//	sid := contextkeys.GetSessionID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: rbac HTTP handlers
	// Used by: Logger, activity details
	// Type: string
	RequestIDKey Key = "request_id"

	// SessionIDKey contains the opaque session id resolved from X-Session-ID
	// Set by: rbac.Handlers session middleware
	// Used by: Logger, session registry lookups
	// Type: string
	SessionIDKey Key = "session_id"

	// PrincipalIDKey contains the authenticated principal id
	// Set by: rbac.Handlers session middleware once the session is resolved
	// Used by: Logger, activity logger actor fallback
	// Type: string
	PrincipalIDKey Key = "principal_id"

	// LoggerKey contains *observability.Logger
	// Set by: cmd/clinicauth serve
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuthzContextKey contains *rbac.AuthorizationContext
	// Set by: rbac.Handlers session middleware
	// Required by: rbac HTTP guards
	// Type: *rbac.AuthorizationContext
	AuthzContextKey Key = "authz_context"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithSessionID adds the session id to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the session id from context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// WithPrincipalID adds the principal id to the context
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalIDKey, principalID)
}

// GetPrincipalID retrieves the principal id from context
func GetPrincipalID(ctx context.Context) string {
	if principalID, ok := ctx.Value(PrincipalIDKey).(string); ok {
		return principalID
	}
	return ""
}

// WithAuthzContext adds the session's authorization context to the context
func WithAuthzContext(ctx context.Context, ac interface{}) context.Context {
	return context.WithValue(ctx, AuthzContextKey, ac)
}
