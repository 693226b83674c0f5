package httpapi

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sivtheng/message-maxy/internal/app/ui"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/httputil"
	"github.com/Sivtheng/message-maxy/internal/middleware"
)

const pathDeleteAccount = "/account/delete"

type authPageView struct {
	Form   ui.AuthForm `json:"form"`
	Toggle string      `json:"toggle"`
}

func newAuthPageView(form ui.AuthForm) authPageView {
	return authPageView{Form: form, Toggle: ui.PathAuth + "?mode=" + string(form.Toggle().Mode)}
}

// authPage renders the sign-in or sign-up form. Signed-in users go home.
func (h *handler) authPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := backend.SessionFromContext(r.Context()); ok {
		http.Redirect(w, r, ui.PathHome, http.StatusSeeOther)
		return
	}
	mode := ui.AuthMode(r.URL.Query().Get("mode"))
	httputil.WriteJSON(w, http.StatusOK, newAuthPageView(ui.NewAuthForm(mode)))
}

type authSubmission struct {
	ui.AuthInput
	Mode ui.AuthMode `json:"mode"`
}

func readAuthSubmission(w http.ResponseWriter, r *http.Request) (authSubmission, error) {
	var sub authSubmission
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := httputil.DecodeJSON(r, &sub, maxJSONBody); err != nil {
			return sub, err
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := r.ParseForm(); err != nil {
			return sub, err
		}
		sub.Mode = ui.AuthMode(r.PostForm.Get("mode"))
		sub.Name = r.PostForm.Get("name")
		sub.Email = r.PostForm.Get("email")
		sub.Identifier = r.PostForm.Get("identifier")
		sub.Password = r.PostForm.Get("password")
	}
	if sub.Mode == "" {
		sub.Mode = ui.AuthMode(r.URL.Query().Get("mode"))
	}
	return sub, nil
}

type authResult struct {
	authPageView
	Navigate *ui.Navigation `json:"navigate,omitempty"`
}

// authSubmit runs a form submission. A successful login sets the session
// cookie and names the next page; sign-up returns the login form with a
// notice.
func (h *handler) authSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := readAuthSubmission(w, r)
	if err != nil {
		h.writeError(w, r, badInput(err))
		return
	}

	outcome := h.app.Authenticator.Submit(r.Context(), sub.Mode, sub.AuthInput)
	result := authResult{authPageView: newAuthPageView(outcome.Form), Navigate: outcome.Navigate}

	switch {
	case outcome.Session != nil:
		h.setSessionCookie(w, *outcome.Session)
		h.audit.add(h.entry(r, "sign_in", outcome.Session.Identity.UID, http.StatusOK))
		httputil.WriteJSON(w, http.StatusOK, result)
	case outcome.Form.Error == "":
		h.audit.add(h.entry(r, "sign_up", "", http.StatusCreated))
		httputil.WriteJSON(w, http.StatusCreated, result)
	case outcome.Form.Mode == ui.ModeLogin:
		h.audit.add(h.entry(r, "sign_in", "", http.StatusUnauthorized))
		httputil.WriteJSON(w, http.StatusUnauthorized, result)
	default:
		h.audit.add(h.entry(r, "sign_up", "", http.StatusBadRequest))
		httputil.WriteJSON(w, http.StatusBadRequest, result)
	}
}

type homeView struct {
	Navbar ui.NavbarView `json:"navbar"`
	Inbox  ui.Inbox      `json:"inbox"`
	Thread ui.Thread     `json:"thread"`
	// Live is the websocket path for the selected conversation.
	Live string `json:"live,omitempty"`
}

// homePage renders the inbox and, when ?peer= is set, that conversation.
func (h *handler) homePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := middleware.GetUserID(r)
	peer := strings.TrimSpace(r.URL.Query().Get("peer"))

	profiles, err := h.app.Messaging.GetAllUsers(ctx, uid, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view := homeView{
		Navbar: h.app.Navbar.View(ctx),
		Inbox:  ui.NewInbox(profiles, peer),
		Thread: ui.NewThread(uid, "", nil),
	}
	if peer != "" {
		msgs, err := h.app.Messaging.GetMessages(ctx, uid, peer)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		view.Thread = ui.NewThread(uid, peer, msgs)
		view.Live = "/api/conversations/" + url.PathEscape(peer) + "/live"
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// logoutPage signs out and redirects to the auth page.
func (h *handler) logoutPage(w http.ResponseWriter, r *http.Request) {
	result := h.app.Navbar.Logout(r.Context())
	if result.Navigate == nil {
		h.audit.add(h.entry(r, "sign_out", middleware.GetUserID(r), http.StatusInternalServerError))
		httputil.WriteJSON(w, http.StatusInternalServerError, result)
		return
	}
	h.audit.add(h.entry(r, "sign_out", middleware.GetUserID(r), http.StatusSeeOther))
	h.clearSessionCookie(w)
	http.Redirect(w, r, result.Navigate.Path, http.StatusSeeOther)
}

// deleteAccountPage deletes the caller's account once confirm=true is
// posted. Without it the confirmation prompt is returned.
func (h *handler) deleteAccountPage(w http.ResponseWriter, r *http.Request) {
	confirmed := r.URL.Query().Get("confirm")
	if confirmed == "" {
		var body struct {
			Confirm bool `json:"confirm"`
		}
		if r.ContentLength != 0 && json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&body) == nil && body.Confirm {
			confirmed = "true"
		}
	}
	ok, _ := strconv.ParseBool(confirmed)

	uid := middleware.GetUserID(r)
	result := h.app.Navbar.DeleteAccount(r.Context(), ok)
	switch {
	case result.Confirm != "":
		httputil.WriteJSON(w, http.StatusOK, result)
	case result.Navigate != nil:
		h.audit.add(h.entry(r, "delete_account", uid, http.StatusOK))
		h.clearSessionCookie(w)
		httputil.WriteJSON(w, http.StatusOK, result)
	default:
		h.audit.add(h.entry(r, "delete_account", uid, http.StatusInternalServerError))
		httputil.WriteJSON(w, http.StatusInternalServerError, result)
	}
}
