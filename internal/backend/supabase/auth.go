package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// Auth implements backend.Auth on Supabase GoTrue.
type Auth struct {
	client *Client
	log    *logger.Logger

	mu        sync.Mutex
	listeners map[int]func(backend.SessionEvent)
	nextID    int
}

var _ backend.Auth = (*Auth)(nil)

// NewAuth creates a GoTrue-backed auth provider.
func NewAuth(client *Client, log *logger.Logger) *Auth {
	if log == nil {
		log = logger.NewDefault("supabase-auth")
	}
	return &Auth{client: client, log: log, listeners: make(map[int]func(backend.SessionEvent))}
}

func (a *Auth) endpoint(path string) string {
	return a.client.baseURL + "/auth/v1" + path
}

// CreateAccount registers email with GoTrue.
func (a *Auth) CreateAccount(ctx context.Context, email, password string) (backend.Identity, error) {
	resp, err := a.client.doJSON(ctx, http.MethodPost, a.endpoint("/signup"), a.client.anonKey, map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	})
	if err != nil {
		return backend.Identity{}, mapAuthError(err)
	}
	// Depending on project settings signup returns either a session or the
	// bare user object.
	user := gjson.GetBytes(resp.Body, "user")
	if !user.Exists() {
		user = gjson.ParseBytes(resp.Body)
	}
	id := identityFrom(user)
	if id.UID == "" {
		return backend.Identity{}, fmt.Errorf("signup response carries no user id")
	}
	return id, nil
}

// Authenticate exchanges email and password for an access token.
func (a *Auth) Authenticate(ctx context.Context, email, password string) (backend.Session, error) {
	resp, err := a.client.doJSON(ctx, http.MethodPost, a.endpoint("/token?grant_type=password"), a.client.anonKey, map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	})
	if err != nil {
		return backend.Session{}, mapAuthError(err)
	}

	body := gjson.ParseBytes(resp.Body)
	session := backend.Session{
		Token:    body.Get("access_token").String(),
		Identity: identityFrom(body.Get("user")),
	}
	if session.Token == "" || session.Identity.UID == "" {
		return backend.Session{}, fmt.Errorf("token response is incomplete")
	}
	if exp := body.Get("expires_at").Int(); exp > 0 {
		session.ExpiresAt = time.Unix(exp, 0).UTC()
	} else if in := body.Get("expires_in").Int(); in > 0 {
		session.ExpiresAt = time.Now().Add(time.Duration(in) * time.Second).UTC()
	}
	a.emit(backend.SessionEvent{Kind: backend.SessionSignedIn, Identity: session.Identity})
	return session, nil
}

// SignOut revokes the session behind token.
func (a *Auth) SignOut(ctx context.Context, token string) error {
	id, err := a.CurrentSession(ctx, token)
	if err != nil {
		return err
	}
	if _, err := a.client.doJSON(ctx, http.MethodPost, a.endpoint("/logout"), token, nil); err != nil {
		return mapAuthError(err)
	}
	a.emit(backend.SessionEvent{Kind: backend.SessionSignedOut, Identity: id})
	return nil
}

// CurrentSession resolves token to its identity.
func (a *Auth) CurrentSession(ctx context.Context, token string) (backend.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return backend.Identity{}, backend.ErrNoSession
	}
	resp, err := a.client.doJSON(ctx, http.MethodGet, a.endpoint("/user"), token, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return backend.Identity{}, backend.ErrNoSession
		}
		return backend.Identity{}, err
	}
	id := identityFrom(gjson.ParseBytes(resp.Body))
	if id.UID == "" {
		return backend.Identity{}, backend.ErrNoSession
	}
	return id, nil
}

// DeleteAccount removes the user through the admin API. It needs the
// service key.
func (a *Auth) DeleteAccount(ctx context.Context, uid string) error {
	if a.client.serviceKey == "" {
		return fmt.Errorf("delete account: service key: %w", backend.ErrNotConfigured)
	}
	endpoint := a.endpoint("/admin/users/" + url.PathEscape(uid))
	if _, err := a.client.doJSON(ctx, http.MethodDelete, endpoint, a.client.serviceKey, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("account %s: %w", uid, backend.ErrNotFound)
		}
		return err
	}
	a.log.WithField("uid", uid).Info("account deleted")
	a.emit(backend.SessionEvent{Kind: backend.SessionDeleted, Identity: backend.Identity{UID: uid}})
	return nil
}

// OnSessionChange registers fn for session events raised by this process.
func (a *Auth) OnSessionChange(fn func(backend.SessionEvent)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Auth) emit(ev backend.SessionEvent) {
	a.mu.Lock()
	fns := make([]func(backend.SessionEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func identityFrom(user gjson.Result) backend.Identity {
	return backend.Identity{UID: user.Get("id").String(), Email: user.Get("email").String()}
}

// mapAuthError translates GoTrue failures into backend errors. Anything not
// recognised is returned as is so callers can inspect the provider text.
func mapAuthError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == "invalid_credentials" || strings.Contains(msg, "invalid login credentials"):
		return fmt.Errorf("%w: %s", backend.ErrInvalidCredentials, apiErr.Message)
	case apiErr.Code == "user_already_exists" || apiErr.Code == "email_exists" || strings.Contains(msg, "already registered"):
		return fmt.Errorf("%w: %s", backend.ErrEmailInUse, apiErr.Message)
	case apiErr.Code == "weak_password" || strings.Contains(msg, "password should be"):
		return fmt.Errorf("%w: %s", backend.ErrWeakPassword, apiErr.Message)
	case apiErr.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", backend.ErrNoSession, apiErr.Message)
	}
	return err
}
