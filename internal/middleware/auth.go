// Package middleware provides the HTTP middleware chain.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Sivtheng/message-maxy/internal/backend"
	svcerrors "github.com/Sivtheng/message-maxy/internal/errors"
	"github.com/Sivtheng/message-maxy/internal/httputil"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "maxy_session"

// LoginPath is where unauthenticated page requests are sent.
const LoginPath = "/auth"

// AuthMiddleware resolves the caller's session through the auth provider.
type AuthMiddleware struct {
	auth backend.Auth
	log  *logger.Logger
}

// NewAuthMiddleware creates the guard. A nil auth provider means no request
// is ever authenticated.
func NewAuthMiddleware(auth backend.Auth, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth-middleware")
	}
	return &AuthMiddleware{auth: auth, log: log}
}

// TokenFromRequest returns the bearer token, falling back to the session
// cookie.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Handler attaches the session to the request context when the token is
// valid. It never rejects a request.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" || m.auth == nil {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.auth.CurrentSession(r.Context(), token)
		if err != nil {
			if !errors.Is(err, backend.ErrNoSession) {
				m.log.WithContext(r.Context()).WithError(err).Warn("session lookup failed")
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := backend.ContextWithSession(r.Context(), backend.Session{Token: token, Identity: identity})
		ctx = logger.WithUserID(ctx, identity.UID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAPI rejects requests without a session with a JSON 401.
func (m *AuthMiddleware) RequireAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := backend.SessionFromContext(r.Context()); !ok {
			m.log.LogSecurityEvent(r.Context(), "unauthenticated_request", map[string]interface{}{
				"path":   r.URL.Path,
				"method": r.Method,
			})
			httputil.WriteServiceError(w, svcerrors.Unauthorized(""))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePage redirects requests without a session to the login page.
func (m *AuthMiddleware) RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := backend.SessionFromContext(r.Context()); !ok {
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserID returns the authenticated user id, or "".
func GetUserID(r *http.Request) string {
	s, ok := backend.SessionFromContext(r.Context())
	if !ok {
		return ""
	}
	return s.Identity.UID
}
