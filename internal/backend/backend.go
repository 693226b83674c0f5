// Package backend defines the narrow interfaces the application uses to reach
// its managed services: authentication, a document store with live queries,
// and an object store. Concrete providers live in sub-packages.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials is returned by Authenticate for any bad login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailInUse is returned by CreateAccount for a taken email.
	ErrEmailInUse = errors.New("email already in use")
	// ErrWeakPassword is returned by CreateAccount for a password the provider rejects.
	ErrWeakPassword = errors.New("password too weak")
	// ErrNoSession is returned when a token does not map to a live session.
	ErrNoSession = errors.New("no active session")
	// ErrNotConfigured is returned when a provider part is missing.
	ErrNotConfigured = errors.New("backend not configured")
)

// Identity is an authenticated account.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Session is a signed-in identity and its bearer token.
type Session struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionEventKind classifies session changes.
type SessionEventKind string

const (
	SessionSignedIn  SessionEventKind = "signed_in"
	SessionSignedOut SessionEventKind = "signed_out"
	SessionDeleted   SessionEventKind = "deleted"
)

// SessionEvent is delivered to OnSessionChange listeners.
type SessionEvent struct {
	Kind     SessionEventKind
	Identity Identity
}

// Auth is the authentication provider.
type Auth interface {
	CreateAccount(ctx context.Context, email, password string) (Identity, error)
	Authenticate(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, token string) error
	CurrentSession(ctx context.Context, token string) (Identity, error)
	DeleteAccount(ctx context.Context, uid string) error
	OnSessionChange(fn func(SessionEvent)) (cancel func())
}

// Unsubscribe stops a live query. Once it returns no further callback starts;
// one already running is not waited for. It may be called from inside the
// subscription's own callback.
type Unsubscribe func()

// DocumentStore is a collection/document database with live queries.
type DocumentStore interface {
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Set(ctx context.Context, collection, id string, fields Fields) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Watch(ctx context.Context, q Query, fn func([]Document)) (Unsubscribe, error)
}

// ObjectStore holds uploaded media.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	URL(ctx context.Context, path string) (string, error)
}

// Object is a stored blob.
type Object struct {
	Path        string
	ContentType string
	Data        []byte
}

// ObjectOpener is implemented by object stores whose URLs are served by this
// process rather than by the provider.
type ObjectOpener interface {
	Open(ctx context.Context, path string) (Object, error)
}
