// Package local implements the authentication provider in process: accounts
// live in a document store, passwords are bcrypt hashes and sessions are
// signed JWTs.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

const (
	// AccountsCollection holds credential records, keyed by uid.
	AccountsCollection = "_accounts"
	// MinPasswordLength mirrors the default of hosted auth providers.
	MinPasswordLength = 6
	// DefaultTokenTTL applies when Config.TokenTTL is zero.
	DefaultTokenTTL = 24 * time.Hour
)

// Config configures the provider.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	Issuer   string
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Auth is an in-process backend.Auth.
type Auth struct {
	docs   backend.DocumentStore
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
	create sync.Mutex

	mu        sync.Mutex
	revoked   map[string]time.Time
	listeners map[int]func(backend.SessionEvent)
	nextID    int
}

var _ backend.Auth = (*Auth)(nil)

// New builds the provider. The secret must be at least 32 bytes.
func New(docs backend.DocumentStore, cfg Config, log *logger.Logger) (*Auth, error) {
	if docs == nil {
		return nil, fmt.Errorf("local auth requires a document store")
	}
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "message-maxy"
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Auth{
		docs:      docs,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		revoked:   make(map[string]time.Time),
		listeners: make(map[int]func(backend.SessionEvent)),
	}, nil
}

// WithClock overrides the clock used for token issue and validation.
func (a *Auth) WithClock(now func() time.Time) *Auth {
	a.now = now
	return a
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Auth) CreateAccount(ctx context.Context, email, password string) (backend.Identity, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return backend.Identity{}, fmt.Errorf("invalid email %q", email)
	}
	if len(password) < MinPasswordLength {
		return backend.Identity{}, fmt.Errorf("%w: at least %d characters required", backend.ErrWeakPassword, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return backend.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	a.create.Lock()
	defer a.create.Unlock()

	if _, err := a.findByEmail(ctx, email); err == nil {
		return backend.Identity{}, backend.ErrEmailInUse
	} else if !errors.Is(err, backend.ErrNotFound) {
		return backend.Identity{}, err
	}

	uid := uuid.NewString()
	err = a.docs.Set(ctx, AccountsCollection, uid, backend.Fields{
		"email":        email,
		"passwordHash": string(hash),
		"createdAt":    backend.ServerTimestamp,
	})
	if err != nil {
		return backend.Identity{}, fmt.Errorf("store account: %w", err)
	}
	a.log.WithField("uid", uid).Info("account created")
	return backend.Identity{UID: uid, Email: email}, nil
}

func (a *Auth) Authenticate(ctx context.Context, email, password string) (backend.Session, error) {
	acct, err := a.findByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return backend.Session{}, backend.ErrInvalidCredentials
		}
		return backend.Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.Fields.String("passwordHash")), []byte(password)) != nil {
		return backend.Session{}, backend.ErrInvalidCredentials
	}

	identity := backend.Identity{UID: acct.ID, Email: acct.Fields.String("email")}
	now := a.now()
	expires := now.Add(a.cfg.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.UID,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(a.cfg.Secret)
	if err != nil {
		return backend.Session{}, fmt.Errorf("sign token: %w", err)
	}

	a.emit(backend.SessionEvent{Kind: backend.SessionSignedIn, Identity: identity})
	return backend.Session{Token: signed, Identity: identity, ExpiresAt: expires.UTC()}, nil
}

func (a *Auth) SignOut(_ context.Context, token string) error {
	c, err := a.parse(token)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.revoked[c.ID] = c.ExpiresAt.Time
	a.mu.Unlock()

	a.emit(backend.SessionEvent{Kind: backend.SessionSignedOut, Identity: backend.Identity{UID: c.Subject, Email: c.Email}})
	return nil
}

func (a *Auth) CurrentSession(ctx context.Context, token string) (backend.Identity, error) {
	c, err := a.parse(token)
	if err != nil {
		return backend.Identity{}, err
	}
	if _, err := a.docs.Get(ctx, AccountsCollection, c.Subject); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return backend.Identity{}, backend.ErrNoSession
		}
		return backend.Identity{}, err
	}
	return backend.Identity{UID: c.Subject, Email: c.Email}, nil
}

func (a *Auth) DeleteAccount(ctx context.Context, uid string) error {
	acct, err := a.docs.Get(ctx, AccountsCollection, uid)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", uid, err)
	}
	if err := a.docs.Delete(ctx, AccountsCollection, uid); err != nil {
		return fmt.Errorf("delete account %s: %w", uid, err)
	}
	a.log.WithField("uid", uid).Info("account deleted")
	a.emit(backend.SessionEvent{Kind: backend.SessionDeleted, Identity: backend.Identity{UID: uid, Email: acct.Fields.String("email")}})
	return nil
}

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

// PurgeExpired forgets revocations of tokens that have expired anyway and
// returns how many were dropped.
func (a *Auth) PurgeExpired() int {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	dropped := 0
	for id, exp := range a.revoked {
		if now.After(exp) {
			delete(a.revoked, id)
			dropped++
		}
	}
	return dropped
}

func (a *Auth) parse(token string) (*claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, backend.ErrNoSession
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (interface{}, error) {
		return a.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.cfg.Issuer), jwt.WithTimeFunc(a.now))
	if err != nil || !parsed.Valid {
		return nil, backend.ErrNoSession
	}

	a.mu.Lock()
	_, revoked := a.revoked[c.ID]
	a.mu.Unlock()
	if revoked {
		return nil, backend.ErrNoSession
	}
	return c, nil
}

func (a *Auth) findByEmail(ctx context.Context, email string) (backend.Document, error) {
	docs, err := a.docs.Query(ctx, backend.Query{
		Collection: AccountsCollection,
		Where:      []backend.Filter{backend.Where("email", email)},
		Limit:      1,
	})
	if err != nil {
		return backend.Document{}, err
	}
	if len(docs) == 0 {
		return backend.Document{}, backend.ErrNotFound
	}
	return docs[0], nil
}

func (a *Auth) emit(evt backend.SessionEvent) {
	a.mu.Lock()
	fns := make([]func(backend.SessionEvent), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(evt)
	}
}
