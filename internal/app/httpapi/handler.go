// Package httpapi exposes the application over HTTP: a JSON API, page view
// models for the browser client, a websocket per open conversation and the
// self-served media route.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/Sivtheng/message-maxy/internal/app"
	"github.com/Sivtheng/message-maxy/internal/app/metrics"
	"github.com/Sivtheng/message-maxy/internal/app/services/janitor"
	"github.com/Sivtheng/message-maxy/internal/app/services/messaging"
	"github.com/Sivtheng/message-maxy/internal/app/ui"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/config"
	svcerrors "github.com/Sivtheng/message-maxy/internal/errors"
	"github.com/Sivtheng/message-maxy/internal/httputil"
	"github.com/Sivtheng/message-maxy/internal/middleware"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

const (
	maxJSONBody      = 1 << 20
	defaultMaxUpload = 25 << 20
	visitorIdleAfter = 10 * time.Minute
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	CookieSecure   bool
	TrustProxy     bool
	RateLimit      config.RateLimitConfig
	AuditLogPath   string
}

// OptionsFrom picks the HTTP settings out of cfg.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CookieSecure:   cfg.Auth.CookieSecure,
		TrustProxy:     cfg.Server.TrustProxy,
		RateLimit:      cfg.RateLimit,
		AuditLogPath:   cfg.Server.AuditLogPath,
	}
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	opts  Options
	log   *logger.Logger
	auth  *middleware.AuthMiddleware
	cors  *middleware.CORSMiddleware
	audit *auditLog
}

// NewHandler returns the full HTTP handler, middleware included.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}

	sink, err := newFileAuditSink(opts.AuditLogPath)
	if err != nil {
		log.WithError(err).WithField("path", opts.AuditLogPath).Warn("audit file unavailable; keeping audit entries in memory only")
	}
	if sink != nil {
		application.Backend.OnClose(sink.Close)
	}

	h := &handler{
		app:   application,
		opts:  opts,
		log:   log,
		auth:  middleware.NewAuthMiddleware(application.Backend.Auth, log.Named("auth")),
		cors:  middleware.NewCORSMiddleware(opts.AllowedOrigins),
		audit: newAuditLog(500, sink),
	}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc(backend.MediaPrefix+"{path:.+}", h.media).Methods(http.MethodGet, http.MethodHead)

	r.HandleFunc(ui.PathAuth, h.authPage).Methods(http.MethodGet)
	r.HandleFunc(ui.PathAuth, h.authSubmit).Methods(http.MethodPost)
	r.Handle(ui.PathHome, h.auth.RequirePage(http.HandlerFunc(h.homePage))).Methods(http.MethodGet)
	r.Handle(ui.PathLogout, h.auth.RequirePage(http.HandlerFunc(h.logoutPage))).Methods(http.MethodGet, http.MethodPost)
	r.Handle(pathDeleteAccount, h.auth.RequirePage(http.HandlerFunc(h.deleteAccountPage))).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/signup", h.signUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", h.signIn).Methods(http.MethodPost)
	api.Handle("/auth/signout", h.private(h.signOut)).Methods(http.MethodPost)
	api.Handle("/me", h.private(h.me)).Methods(http.MethodGet)
	api.Handle("/me", h.private(h.deleteMe)).Methods(http.MethodDelete)
	api.Handle("/me/audit", h.private(h.myAudit)).Methods(http.MethodGet)
	api.Handle("/users", h.private(h.listUsers)).Methods(http.MethodGet)
	api.Handle("/users/{id}", h.private(h.getUser)).Methods(http.MethodGet)
	api.Handle("/users/{id}", h.private(h.deleteUser)).Methods(http.MethodDelete)
	api.Handle("/conversations/{peer}/messages", h.private(h.listMessages)).Methods(http.MethodGet)
	api.Handle("/conversations/{peer}/messages", h.private(h.sendMessage)).Methods(http.MethodPost)
	api.Handle("/conversations/{peer}/live", h.private(h.live)).Methods(http.MethodGet)
	api.Handle("/messages/{id}", h.private(h.deleteMessage)).Methods(http.MethodDelete)

	var next http.Handler = r
	if opts.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(opts.RateLimit.RequestsPerSecond, opts.RateLimit.Burst, log.Named("ratelimit")).
			TrustProxy(opts.TrustProxy)
		application.Janitor.Add(janitor.Task{Name: "rate-limit-visitors", Run: func(_ context.Context) (int, error) {
			return limiter.Cleanup(visitorIdleAfter), nil
		}})
		next = limiter.Handler(next)
	}
	next = h.auth.Handler(next)
	next = h.cors.Handler(next)
	next = middleware.MetricsMiddleware()(next)
	return middleware.LoggingMiddleware(log)(next)
}

func (h *handler) private(fn http.HandlerFunc) http.Handler {
	return h.auth.RequireAPI(fn)
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handler) signUp(w http.ResponseWriter, r *http.Request) {
	var payload signUpRequest
	if err := httputil.DecodeJSON(r, &payload, maxJSONBody); err != nil {
		h.writeError(w, r, badInput(err))
		return
	}
	if payload.Email == "" || payload.Password == "" {
		httputil.WriteServiceError(w, svcerrors.BadRequest("email and password are required"))
		return
	}
	if !strings.Contains(payload.Email, "@") {
		httputil.WriteServiceError(w, svcerrors.BadRequest("email is invalid"))
		return
	}

	uid, err := h.app.Messaging.Register(r.Context(), payload.Name, payload.Email, payload.Password)
	h.record(r, "sign_up", uid, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"uid": uid})
}

type signInRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	var payload signInRequest
	if err := httputil.DecodeJSON(r, &payload, maxJSONBody); err != nil {
		h.writeError(w, r, badInput(err))
		return
	}

	session, err := h.app.Messaging.SignIn(r.Context(), payload.Identifier, payload.Password)
	h.record(r, "sign_in", session.Identity.UID, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setSessionCookie(w, session)
	httputil.WriteJSON(w, http.StatusOK, sessionResponse{
		Token:     session.Token,
		UID:       session.Identity.UID,
		Email:     session.Identity.Email,
		ExpiresAt: session.ExpiresAt,
	})
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	err := h.app.Messaging.SignOutUser(r.Context())
	h.record(r, "sign_out", middleware.GetUserID(r), err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	current, err := h.app.Messaging.CurrentUser(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if current == nil {
		httputil.WriteServiceError(w, svcerrors.Unauthorized(""))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, current)
}

func (h *handler) deleteMe(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r)
	err := h.app.Messaging.DeleteUserAuth(r.Context())
	h.record(r, "delete_account", uid, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) myAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	httputil.WriteJSON(w, http.StatusOK, h.audit.forUser(middleware.GetUserID(r), limit))
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteServiceError(w, svcerrors.BadRequest("limit must be a positive integer"))
		return
	}
	if limit > messaging.DefaultUserLimit {
		limit = messaging.DefaultUserLimit
	}
	profiles, err := h.app.Messaging.GetAllUsers(r.Context(), middleware.GetUserID(r), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profiles)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.app.Messaging.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if profile == nil {
		httputil.WriteServiceError(w, svcerrors.NotFound("user"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.app.Messaging.DeleteUser(r.Context(), id)
	h.record(r, "delete_user", id, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id == middleware.GetUserID(r) {
		h.clearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r)
	msgs, err := h.app.Messaging.GetMessages(r.Context(), uid, mux.Vars(r)["peer"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ui.NewThread(uid, mux.Vars(r)["peer"], msgs))
}

func (h *handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.app.Messaging.DeleteMessage(r.Context(), id)
	h.record(r, "delete_message", id, err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func (h *handler) setSessionCookie(w http.ResponseWriter, s backend.Session) {
	cookie := &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    s.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if !s.ExpiresAt.IsZero() {
		cookie.Expires = s.ExpiresAt
	}
	http.SetCookie(w, cookie)
}

func (h *handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// serviceError maps an application error to its HTTP shape. User-facing
// messages come from the ui texts.
func serviceError(err error) *svcerrors.ServiceError {
	if se := svcerrors.GetServiceError(err); se != nil {
		return se
	}
	var (
		deletion *messaging.DeletionError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.Is(err, httputil.ErrBodyTooLarge):
		return svcerrors.PayloadTooLarge(maxJSONBody)
	case errors.As(err, &tooLarge):
		return svcerrors.PayloadTooLarge(tooLarge.Limit)
	case errors.Is(err, messaging.ErrEnvironmentBlocked):
		return svcerrors.Forbidden(ui.TextBrowserBlocked)
	case errors.Is(err, messaging.ErrInvalidCredentials):
		return svcerrors.Unauthorized(ui.TextInvalidCredentials)
	case errors.Is(err, messaging.ErrNoCurrentUser):
		return svcerrors.Unauthorized(ui.TextNoCurrentUser)
	case errors.Is(err, messaging.ErrForbidden):
		return svcerrors.Forbidden("operation not permitted")
	case errors.Is(err, backend.ErrEmailInUse):
		return svcerrors.Conflict(ui.TextEmailInUse)
	case errors.Is(err, backend.ErrWeakPassword):
		return svcerrors.BadRequest(ui.TextWeakPassword)
	case errors.Is(err, backend.ErrNotFound):
		return svcerrors.NotFound("resource")
	case errors.Is(err, backend.ErrNotConfigured):
		return svcerrors.Unavailable(ui.TextUnavailable, err)
	case errors.As(err, &deletion):
		return svcerrors.Internal(ui.TextDeleteFailed, err).
			WithDetails("step", string(deletion.Step)).
			WithDetails("messages_deleted", deletion.MessagesDeleted)
	default:
		return svcerrors.Internal(ui.TextUnknownError, err)
	}
}

// badInput reports an unreadable request body as a 400, keeping size
// violations distinct.
func badInput(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.Is(err, httputil.ErrBodyTooLarge) || errors.As(err, &tooLarge) || svcerrors.GetServiceError(err) != nil {
		return err
	}
	return svcerrors.BadRequest(err.Error())
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := serviceError(err)
	if se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteServiceError(w, se)
}
