package common

import "context"

type sessionCtxKey struct{}

// SessionContext carries the authenticated caller's identity through a
// request, populated by the bearer-token middleware from the JWT's
// session_id claim.
type SessionContext struct {
	SessionID string
	Admin     bool
}

// WithSessionContext returns a new context carrying sc.
func WithSessionContext(ctx context.Context, sc *SessionContext) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sc)
}

// SessionContextFromContext retrieves the SessionContext set by the
// bearer-token middleware, or nil if absent.
func SessionContextFromContext(ctx context.Context) *SessionContext {
	sc, _ := ctx.Value(sessionCtxKey{}).(*SessionContext)
	return sc
}

// ResolveSessionID returns the session id for ctx, or "" if unauthenticated.
func ResolveSessionID(ctx context.Context) string {
	if sc := SessionContextFromContext(ctx); sc != nil {
		return sc.SessionID
	}
	return ""
}
