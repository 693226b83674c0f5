package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// realtimeServer accepts one socket, reports every frame it receives and
// lets the test push frames back.
type realtimeServer struct {
	frames chan []byte
	push   chan string
}

func newRealtimeServer(t *testing.T) (*realtimeServer, *httptest.Server) {
	t.Helper()
	rs := &realtimeServer{frames: make(chan []byte, 16), push: make(chan string, 4)}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" || r.URL.Query().Get("apikey") != "anon" {
			http.Error(w, "bad handshake", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for frame := range rs.push {
				if conn.WriteMessage(websocket.TextMessage, []byte(frame)) != nil {
					return
				}
			}
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			rs.frames <- msg
		}
	}))
	t.Cleanup(srv.Close)
	return rs, srv
}

func (rs *realtimeServer) next(t *testing.T) gjson.Result {
	t.Helper()
	select {
	case msg := <-rs.frames:
		return gjson.ParseBytes(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return gjson.Result{}
	}
}

func TestRealtimeJoinsAndSignals(t *testing.T) {
	rs, srv := newRealtimeServer(t)
	rt, err := NewRealtime(srv.URL, "anon", "", nil)
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Close()

	changes, cancel, err := rt.Subscribe(context.Background(), "messages")
	require.NoError(t, err)

	join := rs.next(t)
	assert.Equal(t, "phx_join", join.Get("event").String())
	assert.Equal(t, "realtime:public:messages", join.Get("topic").String())
	assert.Equal(t, "messages", join.Get("payload.config.postgres_changes.0.table").String())

	rs.push <- `{"topic":"realtime:public:messages","event":"postgres_changes","payload":{"data":{"table":"messages","type":"INSERT"}},"ref":null}`
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change signal")
	}

	cancel()
	leave := rs.next(t)
	assert.Equal(t, "phx_leave", leave.Get("event").String())
}

func TestRealtimePublishIsLocal(t *testing.T) {
	rt, err := NewRealtime("https://project.supabase.co", "anon", "public", nil)
	require.NoError(t, err)
	assert.Contains(t, rt.url, "wss://project.supabase.co/realtime/v1/websocket?")

	changes, cancel, err := rt.Subscribe(context.Background(), "users")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, rt.Publish(context.Background(), "users"))
	select {
	case <-changes:
	default:
		t.Fatal("expected local signal")
	}
}

func TestChangedCollection(t *testing.T) {
	rt, err := NewRealtime("http://localhost", "anon", "", nil)
	require.NoError(t, err)

	tests := []struct {
		frame string
		want  string
		ok    bool
	}{
		{`{"event":"postgres_changes","topic":"realtime:public:messages","payload":{"data":{"table":"users"}}}`, "users", true},
		{`{"event":"INSERT","topic":"realtime:public:messages","payload":{}}`, "messages", true},
		{`{"event":"phx_reply","topic":"realtime:public:messages","payload":{"status":"ok"}}`, "", false},
		{`{"event":"presence_state","topic":"realtime:public:messages"}`, "", false},
		{`not json`, "", false},
	}
	for _, tc := range tests {
		got, ok := rt.changedCollection([]byte(tc.frame))
		assert.Equal(t, tc.ok, ok, tc.frame)
		assert.Equal(t, tc.want, got, tc.frame)
	}
}
