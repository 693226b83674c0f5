package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	app "github.com/Sivtheng/message-maxy/internal/app"
	"github.com/Sivtheng/message-maxy/internal/app/ui"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/local"
	"github.com/Sivtheng/message-maxy/internal/backend/memory"
	"github.com/Sivtheng/message-maxy/internal/config"
	"github.com/Sivtheng/message-maxy/internal/middleware"
	"github.com/Sivtheng/message-maxy/pkg/testutil"
)

const testPassword = "secret123"

type testEnv struct {
	t       *testing.T
	app     *app.Application
	handler http.Handler
}

func newEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	docs := memory.NewDocs(nil, nil).WithClock(testutil.Clock(time.Second))
	auth, err := local.New(docs, local.Config{Secret: []byte(strings.Repeat("k", 32)), TokenTTL: time.Hour}, nil)
	if err != nil {
		t.Fatalf("local auth: %v", err)
	}
	handle := &backend.Handle{Auth: auth, Docs: docs, Objects: memory.NewObjects("http://example.test")}
	application, err := app.New(handle, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return &testEnv{t: t, app: application, handler: NewHandler(application, opts, nil)}
}

func (e *testEnv) do(method, target, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(marshal(e.t, body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) signUp(name, email string) string {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": name, "email": email, "password": testPassword,
	})
	if resp.Code != http.StatusCreated {
		e.t.Fatalf("sign up %s: expected 201, got %d: %s", email, resp.Code, resp.Body.String())
	}
	var out map[string]string
	decode(e.t, resp, &out)
	return out["uid"]
}

func (e *testEnv) signIn(identifier string) string {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/auth/signin", "", map[string]string{
		"identifier": identifier, "password": testPassword,
	})
	if resp.Code != http.StatusOK {
		e.t.Fatalf("sign in %s: expected 200, got %d: %s", identifier, resp.Code, resp.Body.String())
	}
	var out sessionResponse
	decode(e.t, resp, &out)
	return out.Token
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
}

func sessionCookie(resp *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range resp.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	return nil
}

func TestAPIAccountsAndMessages(t *testing.T) {
	env := newEnv(t, Options{})

	alice := env.signUp("Alice", "alice@example.com")
	bob := env.signUp("Bob", "bob@example.com")

	if resp := env.do(http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Again", "email": "alice@example.com", "password": testPassword,
	}); resp.Code != http.StatusConflict {
		t.Fatalf("duplicate sign up: expected 409, got %d", resp.Code)
	}

	aliceToken := env.signIn("Alice")
	bobToken := env.signIn("bob@example.com")

	resp := env.do(http.MethodGet, "/api/me", aliceToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.Code)
	}
	var me map[string]string
	decode(t, resp, &me)
	if me["uid"] != alice || me["name"] != "Alice" {
		t.Fatalf("unexpected current user %v", me)
	}

	resp = env.do(http.MethodGet, "/api/users", aliceToken, nil)
	var users []map[string]any
	decode(t, resp, &users)
	if len(users) != 1 || users[0]["id"] != bob {
		t.Fatalf("expected only bob in the user list, got %v", users)
	}

	resp = env.do(http.MethodPost, "/api/conversations/"+bob+"/messages", aliceToken, map[string]string{"content": "hi bob"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	resp = env.do(http.MethodPost, "/api/conversations/"+bob+"/messages", aliceToken, map[string]string{"content": "   "})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("blank send: expected 400, got %d", resp.Code)
	}
	resp = env.do(http.MethodPost, "/api/conversations/"+alice+"/messages", bobToken, map[string]string{"content": "hey"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("reply: expected 201, got %d", resp.Code)
	}

	resp = env.do(http.MethodGet, "/api/conversations/"+alice+"/messages", bobToken, nil)
	var thread ui.Thread
	decode(t, resp, &thread)
	if len(thread.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(thread.Messages))
	}
	if thread.Messages[0].Content != "hi bob" || thread.Messages[0].Mine || !thread.Messages[1].Mine {
		t.Fatalf("unexpected thread %+v", thread.Messages)
	}
	if thread.ScrollTo != thread.Messages[1].ID {
		t.Fatalf("scroll target %q, want newest message", thread.ScrollTo)
	}

	resp = env.do(http.MethodDelete, "/api/messages/"+thread.Messages[0].ID, bobToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("deleting another user's message: expected 403, got %d", resp.Code)
	}

	resp = env.do(http.MethodDelete, "/api/me", aliceToken, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete account: expected 204, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp = env.do(http.MethodGet, "/api/me", aliceToken, nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("deleted account: expected 401, got %d", resp.Code)
	}

	resp = env.do(http.MethodGet, "/api/conversations/"+alice+"/messages", bobToken, nil)
	decode(t, resp, &thread)
	if len(thread.Messages) != 1 || !thread.Messages[0].Mine {
		t.Fatalf("expected only bob's reply to remain, got %+v", thread.Messages)
	}

	resp = env.do(http.MethodGet, "/api/me/audit", bobToken, nil)
	var entries []auditEntry
	decode(t, resp, &entries)
	if len(entries) == 0 || entries[0].Action != "sign_up" {
		t.Fatalf("expected bob's audit trail, got %+v", entries)
	}
}

func TestAPIRejectsBadRequests(t *testing.T) {
	env := newEnv(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unauthenticated users", http.MethodGet, "/api/users", nil, http.StatusUnauthorized},
		{"unauthenticated sign out", http.MethodPost, "/api/auth/signout", nil, http.StatusUnauthorized},
		{"empty sign up", http.MethodPost, "/api/auth/signup", map[string]string{}, http.StatusBadRequest},
		{"invalid email", http.MethodPost, "/api/auth/signup", map[string]string{"email": "nope", "password": testPassword}, http.StatusBadRequest},
		{"weak password", http.MethodPost, "/api/auth/signup", map[string]string{"email": "a@b.c", "password": "123"}, http.StatusBadRequest},
		{"unknown user", http.MethodPost, "/api/auth/signin", map[string]string{"identifier": "ghost", "password": testPassword}, http.StatusUnauthorized},
		{"missing body", http.MethodPost, "/api/auth/signin", nil, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(tc.method, tc.path, "", tc.body)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
			var body map[string]any
			decode(t, resp, &body)
			if body["error"] == "" || body["code"] == "" {
				t.Fatalf("expected error envelope, got %v", body)
			}
		})
	}

	resp := env.do(http.MethodPost, "/api/auth/signin", "", map[string]string{"identifier": "ghost", "password": testPassword})
	var body map[string]any
	decode(t, resp, &body)
	if body["error"] != ui.TextInvalidCredentials {
		t.Fatalf("expected generic credential error, got %v", body["error"])
	}
}

func TestAPISignOutEndsSession(t *testing.T) {
	env := newEnv(t, Options{})
	env.signUp("Alice", "alice@example.com")
	token := env.signIn("alice@example.com")

	resp := env.do(http.MethodPost, "/api/auth/signout", token, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("sign out: expected 204, got %d", resp.Code)
	}
	if c := sessionCookie(resp); c == nil || c.MaxAge >= 0 {
		t.Fatalf("expected session cookie to be cleared, got %+v", c)
	}
	if resp := env.do(http.MethodGet, "/api/me", token, nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after sign out, got %d", resp.Code)
	}
}

func TestSendMessageWithMediaAndServeIt(t *testing.T) {
	env := newEnv(t, Options{})
	alice := env.signUp("Alice", "alice@example.com")
	bob := env.signUp("Bob", "bob@example.com")
	token := env.signIn("Alice")

	png := []byte("\x89PNG\r\n\x1a\nfake image")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("content", "look"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="media"; filename="photo.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(png)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+bob+"/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("send media: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.do(http.MethodGet, "/api/conversations/"+bob+"/messages", token, nil)
	var thread ui.Thread
	decode(t, resp, &thread)
	if len(thread.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(thread.Messages))
	}
	msg := thread.Messages[0]
	if msg.MediaType != "image" || msg.Content != "look" {
		t.Fatalf("unexpected message %+v", msg)
	}
	prefix := "http://example.test/media/messages/" + alice + "/"
	if !strings.HasPrefix(msg.MediaURL, prefix) || !strings.HasSuffix(msg.MediaURL, "_photo.png") {
		t.Fatalf("unexpected media url %q", msg.MediaURL)
	}

	u, err := url.Parse(msg.MediaURL)
	if err != nil {
		t.Fatalf("parse media url: %v", err)
	}
	resp = env.do(http.MethodGet, u.Path, "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("media: expected 200, got %d", resp.Code)
	}
	if resp.Header().Get("Content-Type") != "image/png" || !bytes.Equal(resp.Body.Bytes(), png) {
		t.Fatalf("unexpected media response %q %q", resp.Header().Get("Content-Type"), resp.Body.String())
	}

	if resp = env.do(http.MethodGet, "/media/messages/nobody/missing.png", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("missing media: expected 404, got %d", resp.Code)
	}
}

func TestPagesFollowSessionCookie(t *testing.T) {
	env := newEnv(t, Options{})
	env.signUp("Alice", "alice@example.com")
	bob := env.signUp("Bob", "bob@example.com")

	resp := env.do(http.MethodGet, "/", "", nil)
	if resp.Code != http.StatusSeeOther || resp.Header().Get("Location") != ui.PathAuth {
		t.Fatalf("home without session: expected redirect to auth, got %d %q", resp.Code, resp.Header().Get("Location"))
	}

	resp = env.do(http.MethodGet, "/auth?mode=signup", "", nil)
	var page authPageView
	decode(t, resp, &page)
	if page.Form.Mode != ui.ModeSignUp || !page.Form.ShowName || page.Toggle != "/auth?mode=login" {
		t.Fatalf("unexpected sign-up page %+v", page)
	}

	form := url.Values{"identifier": {"Alice"}, "password": {"wrong-password"}}
	req := httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp = httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.Code)
	}
	var result authResult
	decode(t, resp, &result)
	if result.Form.Error != ui.TextInvalidCredentials {
		t.Fatalf("unexpected form error %q", result.Form.Error)
	}

	form.Set("password", testPassword)
	req = httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp = httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	decode(t, resp, &result)
	if result.Navigate == nil || result.Navigate.Path != ui.PathHome {
		t.Fatalf("expected navigation home, got %+v", result.Navigate)
	}
	cookie := sessionCookie(resp)
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("expected session cookie, got %+v", cookie)
	}

	withCookie := func(method, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		req.AddCookie(cookie)
		resp := httptest.NewRecorder()
		env.handler.ServeHTTP(resp, req)
		return resp
	}

	if resp := withCookie(http.MethodGet, "/auth"); resp.Code != http.StatusSeeOther {
		t.Fatalf("auth page while signed in: expected redirect, got %d", resp.Code)
	}

	resp = withCookie(http.MethodGet, "/?peer="+bob)
	if resp.Code != http.StatusOK {
		t.Fatalf("home: expected 200, got %d", resp.Code)
	}
	var home homeView
	decode(t, resp, &home)
	if home.Navbar.Name != "Alice" {
		t.Fatalf("navbar name %q", home.Navbar.Name)
	}
	if len(home.Inbox.Entries) != 1 || !home.Inbox.Entries[0].Selected || home.Inbox.Entries[0].Label != "Bob" {
		t.Fatalf("unexpected inbox %+v", home.Inbox)
	}
	if home.Thread.PeerID != bob || home.Live != "/api/conversations/"+bob+"/live" {
		t.Fatalf("unexpected thread pane %+v live=%q", home.Thread, home.Live)
	}

	resp = withCookie(http.MethodGet, "/")
	decode(t, resp, &home)
	if home.Thread.Placeholder != ui.TextSelectUser {
		t.Fatalf("expected placeholder, got %+v", home.Thread)
	}

	resp = withCookie(http.MethodPost, pathDeleteAccount)
	var navResult ui.Result
	decode(t, resp, &navResult)
	if navResult.Confirm != ui.TextConfirmDelete {
		t.Fatalf("expected confirmation prompt, got %+v", navResult)
	}

	resp = withCookie(http.MethodGet, ui.PathLogout)
	if resp.Code != http.StatusSeeOther || resp.Header().Get("Location") != ui.PathAuth {
		t.Fatalf("logout: expected redirect to auth, got %d", resp.Code)
	}
	if resp := withCookie(http.MethodGet, "/"); resp.Code != http.StatusSeeOther {
		t.Fatalf("home after logout: expected redirect, got %d", resp.Code)
	}
}

func TestDeleteAccountPage(t *testing.T) {
	env := newEnv(t, Options{})
	env.signUp("Alice", "alice@example.com")
	token := env.signIn("Alice")

	resp := env.do(http.MethodPost, pathDeleteAccount+"?confirm=true", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result ui.Result
	decode(t, resp, &result)
	if result.Notice == nil || result.Notice.Text != ui.TextAccountDeleted || result.Navigate.Path != ui.PathAuth {
		t.Fatalf("unexpected result %+v", result)
	}
	if resp := env.do(http.MethodGet, "/api/me", token, nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected deleted account to be signed out, got %d", resp.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t, Options{})

	resp := env.do(http.MethodGet, "/healthz", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.Code)
	}
	var health healthResponse
	decode(t, resp, &health)
	if health.Status != "ok" || !health.Backend.Complete() {
		t.Fatalf("unexpected health %+v", health)
	}
	found := false
	for _, name := range health.Services {
		found = found || name == "janitor"
	}
	if !found {
		t.Fatalf("expected janitor among services %v", health.Services)
	}

	degraded, err := app.New(&backend.Handle{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	resp = httptest.NewRecorder()
	NewHandler(degraded, Options{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	decode(t, resp, &health)
	if health.Status != "degraded" {
		t.Fatalf("expected degraded status, got %q", health.Status)
	}

	resp = env.do(http.MethodGet, "/metrics", "", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "# TYPE") {
		t.Fatalf("metrics: expected exposition output, got %d", resp.Code)
	}
}

func TestRateLimitedRequests(t *testing.T) {
	env := newEnv(t, Options{RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}})

	for i := 0; i < 2; i++ {
		if resp := env.do(http.MethodGet, "/healthz", "", nil); resp.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.Code)
		}
	}
	resp := env.do(http.MethodGet, "/healthz", "", nil)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestLiveConversation(t *testing.T) {
	env := newEnv(t, Options{AllowedOrigins: []string{"https://chat.example.com"}})
	env.signUp("Alice", "alice@example.com")
	bob := env.signUp("Bob", "bob@example.com")
	token := env.signIn("Alice")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversations/" + bob + "/live"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", "https://evil.example.org")
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be rejected")
	}

	header.Set("Origin", "https://chat.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() liveEvent {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev liveEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		return ev
	}

	first := read()
	if first.Type != eventThread || first.Thread == nil || len(first.Thread.Messages) != 0 || first.Thread.PeerID != bob {
		t.Fatalf("unexpected initial event %+v", first)
	}

	if err := conn.WriteJSON(liveCommand{Type: commandKey, Key: ui.KeyEvent{Key: "Enter", Shift: true}, Content: "not yet"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(liveCommand{Type: commandKey, Key: ui.KeyEvent{Key: "Enter"}, Content: "hello bob"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var sentID string
	var latest *ui.Thread
	for sentID == "" || latest == nil || len(latest.Messages) == 0 {
		ev := read()
		switch ev.Type {
		case eventSent:
			sentID = ev.ID
		case eventThread:
			latest = ev.Thread
		case eventError:
			t.Fatalf("unexpected error event %q", ev.Error)
		}
	}
	if len(latest.Messages) != 1 || latest.Messages[0].Content != "hello bob" || latest.Messages[0].ID != sentID {
		t.Fatalf("unexpected thread %+v (sent %s)", latest.Messages, sentID)
	}

	if err := conn.WriteJSON(liveCommand{Type: "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := read(); ev.Type != eventError {
		t.Fatalf("expected error event, got %+v", ev)
	}

	if err := conn.WriteJSON(liveCommand{Type: commandSelect}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := read()
	if ev.Type != eventThread || ev.Thread.Placeholder != ui.TextSelectUser {
		t.Fatalf("expected placeholder after deselect, got %+v", ev)
	}
}

func TestAuditLogKeepsNewestEntries(t *testing.T) {
	l := newAuditLog(3, nil)
	for _, action := range []string{"a", "b", "c", "d"} {
		l.add(auditEntry{Action: action, User: "u1"})
	}
	l.add(auditEntry{Action: "other", User: "u2"})

	got := l.forUser("u1", 0)
	if len(got) != 2 || got[0].Action != "c" || got[1].Action != "d" {
		t.Fatalf("unexpected entries %+v", got)
	}
	if got := l.forUser("u1", 1); len(got) != 1 || got[0].Action != "d" {
		t.Fatalf("limit not applied: %+v", got)
	}
	for _, e := range l.list() {
		if e.Time.IsZero() {
			t.Fatalf("entry without timestamp: %+v", e)
		}
	}
}
