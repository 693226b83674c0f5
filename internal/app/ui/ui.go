// Package ui holds the view models behind the application's pages. Each
// component is driven by its inputs, calls into the data-access services and
// returns plain values the HTTP layer renders. Navigation is returned as data.
package ui

import (
	"context"
	"errors"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	"github.com/Sivtheng/message-maxy/internal/app/services/messaging"
	"github.com/Sivtheng/message-maxy/internal/backend"
)

const (
	PathHome   = "/"
	PathAuth   = "/auth"
	PathLogout = "/logout"
)

// User-facing texts.
const (
	TextInvalidCredentials = "Invalid username or password"
	TextBrowserBlocked     = "Sign-in failed due to browser security settings. Please try disabling ad blockers or security extensions and try again."
	TextSignedUp           = "Account created successfully. Please log in."
	TextNoUsers            = "No users available"
	TextSelectUser         = "Select a user to start chatting"
	TextConfirmDelete      = "Are you sure you want to delete your account? This action cannot be undone."
	TextAccountDeleted     = "Account deleted successfully. You will be logged out."
	TextDeleteFailed       = "An error occurred while deleting the account. Please try again."
	TextNoCurrentUser      = "No user is currently signed in"
	TextEmailInUse         = "An account with this email already exists"
	TextWeakPassword       = "Password should be at least 6 characters"
	TextUnavailable        = "The service is not available right now. Please try again later."
	TextUnknownError       = "An unknown error occurred"
	TextFallbackName       = "User"
)

// Navigation asks the caller to move to Path.
type Navigation struct {
	Path string `json:"path"`
}

// Notice is an inline message shown after a user action.
type Notice struct {
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

// Accounts is the account surface of the messaging service.
type Accounts interface {
	Register(ctx context.Context, name, email, password string) (string, error)
	SignIn(ctx context.Context, identifier, password string) (backend.Session, error)
	SignOutUser(ctx context.Context) error
	DeleteUserAuth(ctx context.Context) error
	CurrentUser(ctx context.Context) (*messaging.CurrentUser, error)
}

// Sender posts messages.
type Sender interface {
	SendMessageWithMedia(ctx context.Context, senderID, receiverID, content string, media *message.Media) (string, error)
}

// Subscriber opens live conversation feeds.
type Subscriber interface {
	OnMessagesUpdate(ctx context.Context, currentUserID, selectedUserID string, fn func([]message.Message)) (backend.Unsubscribe, error)
}

// ErrorText maps a service error to the text shown to the user.
func ErrorText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, messaging.ErrEnvironmentBlocked):
		return TextBrowserBlocked
	case errors.Is(err, messaging.ErrInvalidCredentials):
		return TextInvalidCredentials
	case errors.Is(err, messaging.ErrNoCurrentUser):
		return TextNoCurrentUser
	case errors.Is(err, backend.ErrEmailInUse):
		return TextEmailInUse
	case errors.Is(err, backend.ErrWeakPassword):
		return TextWeakPassword
	case errors.Is(err, backend.ErrNotConfigured):
		return TextUnavailable
	default:
		return TextUnknownError
	}
}
