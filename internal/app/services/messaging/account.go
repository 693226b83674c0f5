package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	"github.com/Sivtheng/message-maxy/internal/app/domain/user"
	"github.com/Sivtheng/message-maxy/internal/app/metrics"
	"github.com/Sivtheng/message-maxy/internal/backend"
)

// CurrentUser is the signed-in identity merged with its profile name.
type CurrentUser struct {
	backend.Identity
	Name string `json:"name"`
}

// SignUp creates an account and returns its id.
func (s *Service) SignUp(ctx context.Context, email, password string) (string, error) {
	auth := s.backend.Auth
	if auth == nil {
		return "", fmt.Errorf("sign up: %w", backend.ErrNotConfigured)
	}
	id, err := auth.CreateAccount(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("sign up: %w", err)
	}
	s.log.WithField("uid", id.UID).Info("account created")
	return id.UID, nil
}

// Register signs up and writes the profile, as the sign-up form does.
func (s *Service) Register(ctx context.Context, name, email, password string) (string, error) {
	uid, err := s.SignUp(ctx, email, password)
	if err != nil {
		return "", err
	}
	if err := s.AddUser(ctx, user.Profile{Name: name, Email: email}, uid); err != nil {
		return "", err
	}
	return uid, nil
}

// SignIn authenticates identifier, which may be an email or a display name.
// The email is tried first; on failure the profile with that display name
// supplies the email for one more attempt. Every failure is reported as
// ErrInvalidCredentials, except provider failures mentioning blocked
// requests, which become ErrEnvironmentBlocked.
func (s *Service) SignIn(ctx context.Context, identifier, password string) (backend.Session, error) {
	auth, docs := s.backend.Auth, s.backend.Docs
	if auth == nil || docs == nil {
		return backend.Session{}, fmt.Errorf("sign in: %w", backend.ErrNotConfigured)
	}
	identifier = strings.TrimSpace(identifier)

	session, err := auth.Authenticate(ctx, identifier, password)
	if err == nil {
		metrics.RecordSignIn("email", true)
		return session, nil
	}
	if blocked(err) {
		metrics.RecordSignIn("email", false)
		return backend.Session{}, fmt.Errorf("%w: %v", ErrEnvironmentBlocked, err)
	}
	s.log.WithError(err).Debug("email sign-in failed, trying display name")

	found, qerr := docs.Query(ctx, backend.Query{
		Collection: user.Collection,
		Where:      []backend.Filter{backend.Where("name", identifier)},
		Limit:      1,
	})
	if qerr != nil || len(found) == 0 {
		metrics.RecordSignIn("display_name", false)
		return backend.Session{}, ErrInvalidCredentials
	}
	email := found[0].Fields.String("email")
	session, err = auth.Authenticate(ctx, email, password)
	if err != nil {
		metrics.RecordSignIn("display_name", false)
		if blocked(err) {
			return backend.Session{}, fmt.Errorf("%w: %v", ErrEnvironmentBlocked, err)
		}
		return backend.Session{}, ErrInvalidCredentials
	}
	metrics.RecordSignIn("display_name", true)
	return session, nil
}

func blocked(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blocked") || strings.Contains(msg, "ad blockers")
}

// SignOutUser ends the caller's session.
func (s *Service) SignOutUser(ctx context.Context) error {
	auth := s.backend.Auth
	if auth == nil {
		return fmt.Errorf("sign out: %w", backend.ErrNotConfigured)
	}
	session, ok := backend.SessionFromContext(ctx)
	if !ok {
		return ErrNoCurrentUser
	}
	if err := auth.SignOut(ctx, session.Token); err != nil && !errors.Is(err, backend.ErrNoSession) {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// CurrentUser returns the caller with their profile name, or nil when no one
// is signed in.
func (s *Service) CurrentUser(ctx context.Context) (*CurrentUser, error) {
	session, ok := backend.SessionFromContext(ctx)
	if !ok || s.backend.Auth == nil {
		return nil, nil
	}
	current := &CurrentUser{Identity: session.Identity}
	profile, err := s.GetUser(ctx, session.Identity.UID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		current.Name = profile.Name
	}
	return current, nil
}

// DeletionStep names one stage of account deletion.
type DeletionStep string

const (
	StepMessages DeletionStep = "messages"
	StepProfile  DeletionStep = "profile"
	StepAuth     DeletionStep = "auth"
)

// DeletionError reports a partially applied account deletion. Completed
// steps are not rolled back.
type DeletionError struct {
	Step      DeletionStep
	Completed []DeletionStep
	// MessagesDeleted counts messages removed before the failure.
	MessagesDeleted int
	Err             error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("delete account: %s step failed (completed: %v): %v", e.Step, e.Completed, e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }

// DeleteUserAuth deletes every message the caller sent, then their profile,
// then their auth record. The steps are independent writes; a failure stops
// the sequence and is returned as a *DeletionError.
func (s *Service) DeleteUserAuth(ctx context.Context) error {
	auth, docs := s.backend.Auth, s.backend.Docs
	if auth == nil || docs == nil {
		return fmt.Errorf("delete account: %w", backend.ErrNotConfigured)
	}
	session, ok := backend.SessionFromContext(ctx)
	if !ok {
		return ErrNoCurrentUser
	}
	uid := session.Identity.UID
	log := s.log.WithField("uid", uid)
	progress := &DeletionError{}

	fail := func(step DeletionStep, err error) error {
		progress.Step = step
		progress.Err = err
		metrics.RecordAccountDeletion(string(step))
		log.WithError(err).WithField("step", string(step)).Error("account deletion stopped")
		return progress
	}

	sent, err := docs.Query(ctx, backend.Query{
		Collection: message.Collection,
		Where:      []backend.Filter{backend.Where(message.FieldSender, uid)},
	})
	if err != nil {
		return fail(StepMessages, err)
	}
	for _, doc := range sent {
		if err := docs.Delete(ctx, message.Collection, doc.ID); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fail(StepMessages, err)
		}
		progress.MessagesDeleted++
	}
	progress.Completed = append(progress.Completed, StepMessages)

	if err := docs.Delete(ctx, user.Collection, uid); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return fail(StepProfile, err)
	}
	progress.Completed = append(progress.Completed, StepProfile)

	if err := auth.DeleteAccount(ctx, uid); err != nil {
		return fail(StepAuth, err)
	}

	metrics.RecordAccountDeletion("")
	log.WithField("messages", progress.MessagesDeleted).Info("account deleted")
	return nil
}
