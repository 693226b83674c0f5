package ui

import (
	"context"
	"strings"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// AuthMode selects the form variant.
type AuthMode string

const (
	ModeLogin  AuthMode = "login"
	ModeSignUp AuthMode = "signup"
)

// AuthForm is the sign-in / sign-up page.
type AuthForm struct {
	Mode            AuthMode `json:"mode"`
	Title           string   `json:"title"`
	IdentifierLabel string   `json:"identifierLabel"`
	SubmitLabel     string   `json:"submitLabel"`
	ToggleLabel     string   `json:"toggleLabel"`
	ShowName        bool     `json:"showName"`
	Error           string   `json:"error,omitempty"`
	Notice          string   `json:"notice,omitempty"`
}

// NewAuthForm renders an empty form in mode. Unknown modes render login.
func NewAuthForm(mode AuthMode) AuthForm {
	if mode == ModeSignUp {
		return AuthForm{
			Mode:            ModeSignUp,
			Title:           "Create a new account",
			IdentifierLabel: "Email",
			SubmitLabel:     "Sign up",
			ToggleLabel:     "Already have an account? Sign in",
			ShowName:        true,
		}
	}
	return AuthForm{
		Mode:            ModeLogin,
		Title:           "Sign in to your account",
		IdentifierLabel: "Email or Username",
		SubmitLabel:     "Sign in",
		ToggleLabel:     "Create a new account",
	}
}

// Toggle switches between login and sign-up.
func (f AuthForm) Toggle() AuthForm {
	if f.Mode == ModeSignUp {
		return NewAuthForm(ModeLogin)
	}
	return NewAuthForm(ModeSignUp)
}

// AuthInput is a submitted form. In login mode Identifier is an email or a
// display name; in sign-up mode Name and Email are used.
type AuthInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// AuthOutcome is the form after submission plus, on login, the new session
// and where to go next.
type AuthOutcome struct {
	Form     AuthForm         `json:"form"`
	Session  *backend.Session `json:"-"`
	Navigate *Navigation      `json:"navigate,omitempty"`
}

// Authenticator runs form submissions.
type Authenticator struct {
	accounts Accounts
	log      *logger.Logger
}

// NewAuthenticator creates the component.
func NewAuthenticator(accounts Accounts, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("authform")
	}
	return &Authenticator{accounts: accounts, log: log}
}

// Submit handles one form submission in mode.
func (a *Authenticator) Submit(ctx context.Context, mode AuthMode, in AuthInput) AuthOutcome {
	form := NewAuthForm(mode)
	if strings.TrimSpace(in.Password) == "" {
		form.Error = TextInvalidCredentials
		return AuthOutcome{Form: form}
	}

	if form.Mode == ModeLogin {
		identifier := in.Identifier
		if identifier == "" {
			identifier = in.Email
		}
		session, err := a.accounts.SignIn(ctx, identifier, in.Password)
		if err != nil {
			a.log.WithContext(ctx).WithError(err).Debug("sign-in rejected")
			form.Error = ErrorText(err)
			return AuthOutcome{Form: form}
		}
		return AuthOutcome{Form: form, Session: &session, Navigate: &Navigation{Path: PathHome}}
	}

	if _, err := a.accounts.Register(ctx, strings.TrimSpace(in.Name), in.Email, in.Password); err != nil {
		a.log.WithContext(ctx).WithError(err).Warn("sign-up failed")
		form.Error = ErrorText(err)
		return AuthOutcome{Form: form}
	}
	form = NewAuthForm(ModeLogin)
	form.Notice = TextSignedUp
	return AuthOutcome{Form: form}
}
