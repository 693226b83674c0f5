package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sivtheng/message-maxy/internal/app/domain/user"
	"github.com/Sivtheng/message-maxy/internal/backend"
)

// AddUser writes the profile document for uid. The creation time is set by
// the store.
func (s *Service) AddUser(ctx context.Context, profile user.Profile, uid string) error {
	docs := s.backend.Docs
	if docs == nil {
		return nil
	}
	if uid == "" {
		return fmt.Errorf("add user: id is required")
	}
	err := docs.Set(ctx, user.Collection, uid, backend.Fields{
		"name":      profile.Name,
		"email":     profile.Email,
		"createdAt": backend.ServerTimestamp,
	})
	if err != nil {
		s.log.WithError(err).WithField("uid", uid).Error("add user failed")
		return fmt.Errorf("add user %s: %w", uid, err)
	}
	s.log.WithField("uid", uid).Info("user added")
	return nil
}

// GetUser returns the profile for id, or nil when there is none.
func (s *Service) GetUser(ctx context.Context, id string) (*user.Profile, error) {
	docs := s.backend.Docs
	if docs == nil || id == "" {
		return nil, nil
	}
	doc, err := docs.Get(ctx, user.Collection, id)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	p := profileFrom(doc)
	return &p, nil
}

// DeleteUser removes the profile for id and, when the caller is signed in as
// id, the auth record as well. Only the owner may delete a profile.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	session, ok := backend.SessionFromContext(ctx)
	if !ok {
		return ErrNoCurrentUser
	}
	if session.Identity.UID != id {
		return ErrForbidden
	}
	if auth := s.backend.Auth; auth != nil {
		if err := auth.DeleteAccount(ctx, id); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("delete account %s: %w", id, err)
		}
	}
	if docs := s.backend.Docs; docs != nil {
		if err := docs.Delete(ctx, user.Collection, id); err != nil && !errors.Is(err, backend.ErrNotFound) {
			return fmt.Errorf("delete profile %s: %w", id, err)
		}
	}
	s.log.WithField("uid", id).Info("user deleted")
	return nil
}

// GetAllUsers returns up to limit profiles other than currentUserID. A limit
// of zero or less means DefaultUserLimit. There is no paging.
func (s *Service) GetAllUsers(ctx context.Context, currentUserID string, limit int) ([]user.Profile, error) {
	docs := s.backend.Docs
	if docs == nil {
		return []user.Profile{}, nil
	}
	if limit <= 0 {
		limit = DefaultUserLimit
	}
	// One extra row covers the caller's own profile.
	found, err := docs.Query(ctx, backend.Query{Collection: user.Collection, Limit: limit + 1})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]user.Profile, 0, limit)
	for _, doc := range found {
		if doc.ID == currentUserID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, profileFrom(doc))
	}
	return out, nil
}
