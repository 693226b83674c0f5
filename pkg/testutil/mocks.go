// Package testutil provides test doubles for the backend interfaces.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sivtheng/message-maxy/internal/backend"
)

// ErrInjected is the default failure returned by a FaultyDocs.
var ErrInjected = errors.New("injected failure")

// Fault selects the call that fails. Collection "" matches any collection.
type Fault struct {
	Op         string
	Collection string
	// After lets this many matching calls succeed before failing.
	After int
	Err   error
}

// FaultyDocs wraps a DocumentStore and fails selected calls.
type FaultyDocs struct {
	backend.DocumentStore

	mu     sync.Mutex
	faults []*Fault
	calls  map[string]int
}

// NewFaultyDocs wraps inner.
func NewFaultyDocs(inner backend.DocumentStore) *FaultyDocs {
	return &FaultyDocs{DocumentStore: inner, calls: make(map[string]int)}
}

// Fail registers a fault.
func (f *FaultyDocs) Fail(fault Fault) *FaultyDocs {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.faults = append(f.faults, &fault)
	return f
}

// Calls reports how many times op ran against collection.
func (f *FaultyDocs) Calls(op, collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op+"/"+collection]
}

func (f *FaultyDocs) check(op, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op+"/"+collection]++
	for _, fault := range f.faults {
		if fault.Op != op || (fault.Collection != "" && fault.Collection != collection) {
			continue
		}
		if fault.After > 0 {
			fault.After--
			continue
		}
		return fault.Err
	}
	return nil
}

func (f *FaultyDocs) Add(ctx context.Context, collection string, fields backend.Fields) (string, error) {
	if err := f.check("add", collection); err != nil {
		return "", err
	}
	return f.DocumentStore.Add(ctx, collection, fields)
}

func (f *FaultyDocs) Set(ctx context.Context, collection, id string, fields backend.Fields) error {
	if err := f.check("set", collection); err != nil {
		return err
	}
	return f.DocumentStore.Set(ctx, collection, id, fields)
}

func (f *FaultyDocs) Get(ctx context.Context, collection, id string) (backend.Document, error) {
	if err := f.check("get", collection); err != nil {
		return backend.Document{}, err
	}
	return f.DocumentStore.Get(ctx, collection, id)
}

func (f *FaultyDocs) Delete(ctx context.Context, collection, id string) error {
	if err := f.check("delete", collection); err != nil {
		return err
	}
	return f.DocumentStore.Delete(ctx, collection, id)
}

func (f *FaultyDocs) Query(ctx context.Context, q backend.Query) ([]backend.Document, error) {
	if err := f.check("query", q.Collection); err != nil {
		return nil, err
	}
	return f.DocumentStore.Query(ctx, q)
}

// StubAuth is an Auth whose calls return fixed errors. Zero value methods
// succeed.
type StubAuth struct {
	mu sync.Mutex

	AuthenticateErr error
	DeleteErr       error
	Sessions        map[string]backend.Session

	Deleted []string
	SignIns []string
}

var _ backend.Auth = (*StubAuth)(nil)

func (a *StubAuth) CreateAccount(_ context.Context, email, _ string) (backend.Identity, error) {
	return backend.Identity{UID: "uid-" + email, Email: email}, nil
}

func (a *StubAuth) Authenticate(_ context.Context, email, _ string) (backend.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SignIns = append(a.SignIns, email)
	if a.AuthenticateErr != nil {
		return backend.Session{}, a.AuthenticateErr
	}
	if s, ok := a.Sessions[email]; ok {
		return s, nil
	}
	return backend.Session{}, backend.ErrInvalidCredentials
}

func (a *StubAuth) SignOut(context.Context, string) error { return nil }

func (a *StubAuth) CurrentSession(context.Context, string) (backend.Identity, error) {
	return backend.Identity{}, backend.ErrNoSession
}

func (a *StubAuth) DeleteAccount(_ context.Context, uid string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DeleteErr != nil {
		return a.DeleteErr
	}
	a.Deleted = append(a.Deleted, uid)
	return nil
}

func (a *StubAuth) OnSessionChange(func(backend.SessionEvent)) func() { return func() {} }

// Session builds a signed-in session for uid.
func Session(uid, email string) backend.Session {
	return backend.Session{
		Token:     "token-" + uid,
		Identity:  backend.Identity{UID: uid, Email: email},
		ExpiresAt: Now().Add(time.Hour),
	}
}

// SignedIn returns ctx carrying a session for uid.
func SignedIn(ctx context.Context, uid string) context.Context {
	return backend.ContextWithSession(ctx, Session(uid, uid+"@example.com"))
}

// Now returns a fixed, UTC test time.
func Now() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

// Clock returns a clock that advances by step on every call, starting at Now.
func Clock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := Now().Add(-step)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}
