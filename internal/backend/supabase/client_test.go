package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sivtheng/message-maxy/internal/backend"
)

// fakeProject is a minimal stand-in for the Supabase REST surface.
type fakeProject struct {
	mu      sync.Mutex
	rows    map[string]map[string]map[string]any
	objects map[string][]byte
	users   map[string]string // email -> password
	deleted []string
	queries []string
	written []map[string]any
	clock   time.Time
}

func newFakeProject(t *testing.T) (*fakeProject, *httptest.Server) {
	t.Helper()
	f := &fakeProject{
		rows:    map[string]map[string]map[string]any{},
		objects: map[string][]byte{},
		users:   map[string]string{"alice@example.com": "secret1"},
		clock:   time.Date(2030, 1, 2, 3, 4, 5, 6000, time.UTC),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeProject) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/auth/v1/signup":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := f.users[body["email"]]; ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`)
			return
		}
		f.users[body["email"]] = body["password"]
		io.WriteString(w, `{"id":"uid-`+body["email"]+`","email":"`+body["email"]+`"}`)
	case path == "/auth/v1/token":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.users[body["email"]] != body["password"] || body["password"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
			return
		}
		io.WriteString(w, `{"access_token":"tok-`+body["email"]+`","expires_in":3600,"user":{"id":"uid-`+body["email"]+`","email":"`+body["email"]+`"}}`)
	case path == "/auth/v1/user":
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !strings.HasPrefix(token, "tok-") {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"msg":"invalid JWT"}`)
			return
		}
		email := strings.TrimPrefix(token, "tok-")
		io.WriteString(w, `{"id":"uid-`+email+`","email":"`+email+`"}`)
	case path == "/auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(path, "/auth/v1/admin/users/"):
		if r.Header.Get("Authorization") != "Bearer service" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.deleted = append(f.deleted, strings.TrimPrefix(path, "/auth/v1/admin/users/"))
		io.WriteString(w, `{}`)
	case strings.HasPrefix(path, "/rest/v1/"):
		f.serveTable(w, r, strings.TrimPrefix(path, "/rest/v1/"))
	case strings.HasPrefix(path, "/storage/v1/object/public/"):
		if _, ok := f.objects[strings.TrimPrefix(path, "/storage/v1/object/public/")]; !ok {
			w.WriteHeader(http.StatusBadRequest)
		}
	case strings.HasPrefix(path, "/storage/v1/object/"):
		data, _ := io.ReadAll(r.Body)
		f.objects[strings.TrimPrefix(path, "/storage/v1/object/")] = data
		io.WriteString(w, `{"Key":"ok"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveTable understands the subset of PostgREST the store emits: eq and in
// filters on id or fields->>name, plus insert and delete.
func (f *fakeProject) serveTable(w http.ResponseWriter, r *http.Request, table string) {
	if f.rows[table] == nil {
		f.rows[table] = map[string]map[string]any{}
	}
	f.queries = append(f.queries, r.URL.RawQuery)

	if r.Method == http.MethodPost {
		var body struct {
			ID               string         `json:"id"`
			Fields           map[string]any `json:"fields"`
			ServerTimeFields []string       `json:"server_time_fields"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.written = append(f.written, body.Fields)
		if body.Fields == nil {
			body.Fields = map[string]any{}
		}
		// Same effect as the stamping trigger in schema.sql.
		for _, name := range body.ServerTimeFields {
			body.Fields[name] = backend.FormatTime(f.clock)
		}
		f.rows[table][body.ID] = body.Fields
		w.WriteHeader(http.StatusCreated)
		return
	}

	var out []map[string]any
	for id, fields := range f.rows[table] {
		if matchRow(r.URL.Query(), id, fields) {
			out = append(out, map[string]any{"id": id, "fields": fields})
			if r.Method == http.MethodDelete {
				delete(f.rows[table], id)
			}
		}
	}
	if out == nil {
		out = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func matchRow(params map[string][]string, id string, fields map[string]any) bool {
	for key, values := range params {
		if key == "select" || key == "order" || key == "limit" {
			continue
		}
		got := id
		if name, ok := strings.CutPrefix(key, "fields->>"); ok {
			got, _ = fields[name].(string)
		}
		for _, expr := range values {
			switch {
			case strings.HasPrefix(expr, "eq."):
				if got != strings.Trim(strings.TrimPrefix(expr, "eq."), `"`) {
					return false
				}
			case strings.HasPrefix(expr, "in.("):
				list := strings.Split(strings.TrimSuffix(strings.TrimPrefix(expr, "in.("), ")"), ",")
				found := false
				for _, v := range list {
					if strings.Trim(v, `"`) == got {
						found = true
					}
				}
				if !found {
					return false
				}
			}
		}
	}
	return true
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{URL: srv.URL, AnonKey: "anon", ServiceKey: "service", Bucket: "media"})
	require.NoError(t, err)
	return client
}

func TestNewRequiresURLAndKey(t *testing.T) {
	_, err := New(Config{AnonKey: "anon"})
	assert.Error(t, err)
	_, err = New(Config{URL: "http://example.com"})
	assert.Error(t, err)
}

func TestAuthLifecycle(t *testing.T) {
	fake, srv := newFakeProject(t)
	auth := NewAuth(newTestClient(t, srv), nil)
	ctx := context.Background()

	var events []backend.SessionEventKind
	cancel := auth.OnSessionChange(func(ev backend.SessionEvent) { events = append(events, ev.Kind) })
	defer cancel()

	id, err := auth.CreateAccount(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "uid-bob@example.com", id.UID)

	_, err = auth.CreateAccount(ctx, "bob@example.com", "hunter22")
	assert.ErrorIs(t, err, backend.ErrEmailInUse)

	_, err = auth.Authenticate(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	session, err := auth.Authenticate(ctx, "bob@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, id, session.Identity)
	assert.False(t, session.ExpiresAt.IsZero())

	current, err := auth.CurrentSession(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, id.UID, current.UID)

	_, err = auth.CurrentSession(ctx, "garbage")
	assert.ErrorIs(t, err, backend.ErrNoSession)

	require.NoError(t, auth.SignOut(ctx, session.Token))
	require.NoError(t, auth.DeleteAccount(ctx, id.UID))
	assert.Equal(t, []string{"uid-bob@example.com"}, fake.deleted)
	assert.Equal(t, []backend.SessionEventKind{backend.SessionSignedIn, backend.SessionSignedOut, backend.SessionDeleted}, events)
}

func TestDeleteAccountNeedsServiceKey(t *testing.T) {
	_, srv := newFakeProject(t)
	client, err := New(Config{URL: srv.URL, AnonKey: "anon"})
	require.NoError(t, err)

	err = NewAuth(client, nil).DeleteAccount(context.Background(), "u1")
	assert.ErrorIs(t, err, backend.ErrNotConfigured)
}

func TestDocsRoundTrip(t *testing.T) {
	fake, srv := newFakeProject(t)
	docs := NewDocs(newTestClient(t, srv), nil, nil)
	ctx := context.Background()

	require.NoError(t, docs.Set(ctx, "users", "u1", backend.Fields{"name": "alice", "createdAt": backend.ServerTimestamp}))
	doc, err := docs.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.Fields.String("name"))
	_, ok := doc.Fields.Time("createdAt")
	assert.True(t, ok)

	_, err = docs.Get(ctx, "users", "missing")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}, {"u3", "u1"}} {
		_, err := docs.Add(ctx, "messages", backend.Fields{"senderID": pair[0], "receiverID": pair[1]})
		require.NoError(t, err)
	}
	got, err := docs.Query(ctx, backend.Query{
		Collection: "messages",
		Where:      []backend.Filter{backend.WhereIn("senderID", "u1", "u2"), backend.WhereIn("receiverID", "u1", "u2")},
		OrderBy:    "timestamp",
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	last := fake.queries[len(fake.queries)-1]
	assert.Contains(t, last, "order=fields-%3E%3Etimestamp.asc%2Cid.asc")
	assert.Contains(t, last, "limit=10")

	require.NoError(t, docs.Delete(ctx, "users", "u1"))
	err = docs.Delete(ctx, "users", "u1")
	assert.True(t, errors.Is(err, backend.ErrNotFound))
}

func TestDocsLeaveServerTimestampsToDatabase(t *testing.T) {
	fake, srv := newFakeProject(t)
	docs := NewDocs(newTestClient(t, srv), nil, nil)
	ctx := context.Background()

	id, err := docs.Add(ctx, "messages", backend.Fields{"senderID": "u1", "receiverID": "u2", "timestamp": backend.ServerTimestamp})
	require.NoError(t, err)

	fake.mu.Lock()
	sent := fake.written[len(fake.written)-1]
	fake.mu.Unlock()
	assert.NotContains(t, sent, "timestamp")
	assert.Equal(t, "u1", sent["senderID"])

	doc, err := docs.Get(ctx, "messages", id)
	require.NoError(t, err)
	ts, ok := doc.Fields.Time("timestamp")
	require.True(t, ok)
	assert.True(t, ts.Equal(fake.clock), "timestamp %v should come from the database clock", ts)

	assert.Contains(t, Schema, "CREATE TRIGGER messages_stamp_fields")
	assert.Contains(t, Schema, "clock_timestamp()")
}

func TestDocsRejectsUnsafeFieldNames(t *testing.T) {
	_, srv := newFakeProject(t)
	docs := NewDocs(newTestClient(t, srv), nil, nil)

	_, err := docs.Query(context.Background(), backend.Query{
		Collection: "users",
		Where:      []backend.Filter{backend.Where("name,or=(id.neq.x)", "x")},
	})
	assert.Error(t, err)
}

func TestStoragePutAndURL(t *testing.T) {
	fake, srv := newFakeProject(t)
	storage, err := NewStorage(newTestClient(t, srv), "media")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = storage.URL(ctx, "messages/u1/1_a.png")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, storage.Put(ctx, "messages/u1/1_a.png", []byte("png"), "image/png"))
	assert.Equal(t, []byte("png"), fake.objects["media/messages/u1/1_a.png"])

	url, err := storage.URL(ctx, "messages/u1/1_a.png")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/media/messages/u1/1_a.png", url)
}

func TestResponseErr(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{"ok", Response{StatusCode: 200}, ""},
		{"gotrue msg", Response{StatusCode: 422, Body: []byte(`{"msg":"User already registered"}`)}, "supabase error: User already registered (status 422)"},
		{"postgrest message", Response{StatusCode: 400, Body: []byte(`{"message":"column does not exist"}`)}, "supabase error: column does not exist (status 400)"},
		{"no body", Response{StatusCode: 503}, "supabase error: Service Unavailable (status 503)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.resp.Err()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.want, err.Error())
		})
	}
}
