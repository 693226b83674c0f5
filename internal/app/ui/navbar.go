package ui

import (
	"context"

	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// NavbarView is the header shown on protected pages.
type NavbarView struct {
	Name string `json:"name"`
}

// Result is the outcome of a user action: an optional confirmation prompt,
// an optional notice and an optional navigation.
type Result struct {
	Confirm  string      `json:"confirm,omitempty"`
	Notice   *Notice     `json:"notice,omitempty"`
	Navigate *Navigation `json:"navigate,omitempty"`
}

// Navbar implements the header actions.
type Navbar struct {
	accounts Accounts
	log      *logger.Logger
}

// NewNavbar creates the component.
func NewNavbar(accounts Accounts, log *logger.Logger) *Navbar {
	if log == nil {
		log = logger.NewDefault("navbar")
	}
	return &Navbar{accounts: accounts, log: log}
}

// View renders the signed-in user's name.
func (n *Navbar) View(ctx context.Context) NavbarView {
	current, err := n.accounts.CurrentUser(ctx)
	if err != nil {
		n.log.WithContext(ctx).WithError(err).Warn("load current user")
	}
	if current == nil || current.Name == "" {
		return NavbarView{Name: TextFallbackName}
	}
	return NavbarView{Name: current.Name}
}

// Logout signs out and sends the user to the auth page. A failed sign-out is
// logged and leaves the user where they are.
func (n *Navbar) Logout(ctx context.Context) Result {
	if err := n.accounts.SignOutUser(ctx); err != nil {
		n.log.WithContext(ctx).WithError(err).Error("error logging out")
		return Result{Notice: &Notice{Text: ErrorText(err), Error: true}}
	}
	return Result{Navigate: &Navigation{Path: PathAuth}}
}

// DeleteAccount deletes the signed-in account once confirmed. Without
// confirmation it returns the prompt and does nothing.
func (n *Navbar) DeleteAccount(ctx context.Context, confirmed bool) Result {
	if !confirmed {
		return Result{Confirm: TextConfirmDelete}
	}
	if err := n.accounts.DeleteUserAuth(ctx); err != nil {
		n.log.WithContext(ctx).WithError(err).Error("error deleting account")
		return Result{Notice: &Notice{Text: TextDeleteFailed, Error: true}}
	}
	return Result{
		Notice:   &Notice{Text: TextAccountDeleted},
		Navigate: &Navigation{Path: PathAuth},
	}
}
