package backend

import "context"

type sessionKey struct{}

// ContextWithSession stores the caller's session in ctx.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the caller's session, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	if !ok || s.Identity.UID == "" {
		return Session{}, false
	}
	return s, true
}
