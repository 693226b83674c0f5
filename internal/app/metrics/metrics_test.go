package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/":                              "/",
		"/healthz":                       "/healthz",
		"/api/me":                        "/api/me",
		"/api/users":                     "/api/users",
		"/api/users/u1":                  "/api/users/:id",
		"/api/messages/m9":               "/api/messages/:id",
		"/api/conversations/u2/messages": "/api/conversations/:peer/messages",
		"/api/conversations/u2/live":     "/api/conversations/:peer/live",
		"/media/messages/u1/1_a.png":     "/media",
		"/api/auth/signin":               "/api/auth/signin",
	}
	for raw, want := range cases {
		if got := CanonicalPath(raw); got != want {
			t.Errorf("CanonicalPath(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/users/:id", "404"))

	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/users/u42", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/users/:id", "404"))
	if after != before+1 {
		t.Fatalf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestRecorders(t *testing.T) {
	RecordMessageSent("")
	RecordMessageSent("image")
	RecordMediaUpload(2048)
	RecordAccountDeletion("")
	RecordAccountDeletion("profile")
	RecordSignIn("display_name", true)

	if got := testutil.ToFloat64(accountDeletions.WithLabelValues("failed_profile")); got < 1 {
		t.Fatalf("expected failed_profile deletion to be counted, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{"maxy_messages_sent_total", "maxy_auth_account_deletions_total", "maxy_auth_signins_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
