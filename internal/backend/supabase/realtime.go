package supabase

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/Sivtheng/message-maxy/internal/backend/live"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

// Realtime is a live.Notifier fed by Supabase Realtime postgres_changes
// events. Publish also signals local subscribers directly so writers in this
// process do not wait for the round trip.
type Realtime struct {
	url    string
	schema string
	log    *logger.Logger
	dialer websocket.Dialer
	retry  RetryConfig
	local  *live.LocalNotifier

	mu     sync.Mutex
	conn   *websocket.Conn
	refs   map[string]int
	ref    int
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

var _ live.Notifier = (*Realtime)(nil)

// NewRealtime prepares a Realtime client for the project at baseURL.
func NewRealtime(baseURL, apiKey, schema string, log *logger.Logger) (*Realtime, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/realtime/v1/websocket")
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	if schema == "" {
		schema = "public"
	}
	if log == nil {
		log = logger.NewDefault("supabase-realtime")
	}
	return &Realtime{
		url:    u.String(),
		schema: schema,
		log:    log,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		retry:  DefaultRetryConfig(),
		local:  live.NewLocalNotifier(),
		refs:   make(map[string]int),
	}, nil
}

// Start dials the socket and keeps it connected until Close.
func (r *Realtime) Start(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.conn = conn
	r.cancel = cancel
	r.done = make(chan struct{})
	topics := r.topicsLocked()
	r.mu.Unlock()

	for _, collection := range topics {
		r.join(collection)
	}
	go r.run(runCtx, conn)
	go r.heartbeat(runCtx)
	return nil
}

// Close stops the client and closes the socket.
func (r *Realtime) Close() error {
	r.mu.Lock()
	cancel, conn, done := r.cancel, r.conn, r.done
	if cancel == nil {
		r.mu.Unlock()
		return nil
	}
	cancel()
	r.cancel, r.conn = nil, nil
	r.mu.Unlock()

	var err error
	if conn != nil {
		r.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		r.writeMu.Unlock()
		err = conn.Close()
	}
	<-done
	return err
}

// Publish signals subscribers in this process.
func (r *Realtime) Publish(ctx context.Context, collection string) error {
	return r.local.Publish(ctx, collection)
}

// Subscribe joins the channel for collection on first use and leaves it when
// the last subscriber cancels.
func (r *Realtime) Subscribe(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	ch, cancelLocal, err := r.local.Subscribe(ctx, collection)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	r.refs[collection]++
	first := r.refs[collection] == 1
	r.mu.Unlock()
	if first {
		r.join(collection)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelLocal()
			r.mu.Lock()
			r.refs[collection]--
			last := r.refs[collection] <= 0
			if last {
				delete(r.refs, collection)
			}
			r.mu.Unlock()
			if last {
				r.leave(collection)
			}
		})
	}
	return ch, cancel, nil
}

func (r *Realtime) topic(collection string) string {
	return "realtime:" + r.schema + ":" + collection
}

func (r *Realtime) topicsLocked() []string {
	out := make([]string, 0, len(r.refs))
	for c := range r.refs {
		out = append(out, c)
	}
	return out
}

func (r *Realtime) join(collection string) {
	r.send(r.topic(collection), "phx_join", map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]any{
				{"event": "*", "schema": r.schema, "table": collection},
			},
		},
	})
}

func (r *Realtime) leave(collection string) {
	r.send(r.topic(collection), "phx_leave", map[string]any{})
}

// send writes a Phoenix frame. Frames sent while disconnected are dropped;
// joins are replayed on reconnect.
func (r *Realtime) send(topic, event string, payload map[string]any) {
	r.mu.Lock()
	conn := r.conn
	r.ref++
	ref := strconv.Itoa(r.ref)
	r.mu.Unlock()
	if conn == nil {
		return
	}

	frame := map[string]any{"topic": topic, "event": event, "payload": payload, "ref": ref}
	if event == "phx_join" {
		frame["join_ref"] = ref
	}
	r.writeMu.Lock()
	err := conn.WriteJSON(frame)
	r.writeMu.Unlock()
	if err != nil {
		r.log.WithError(err).WithField("topic", topic).Warn("realtime write failed")
	}
}

func (r *Realtime) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.send("phoenix", "heartbeat", map[string]any{})
		}
	}
}

// run reads frames and reconnects with backoff until ctx is cancelled.
func (r *Realtime) run(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		r.mu.Lock()
		close(r.done)
		r.mu.Unlock()
	}()

	for {
		r.read(conn)
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("realtime connection lost, reconnecting")

		for attempt := 1; ; attempt++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.retry.Backoff(attempt)):
			}
			next, _, err := r.dialer.DialContext(ctx, r.url, nil)
			if err != nil {
				r.log.WithError(err).WithField("attempt", attempt).Debug("realtime redial failed")
				continue
			}
			conn = next
			break
		}

		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			conn.Close()
			return
		}
		r.conn = conn
		topics := r.topicsLocked()
		r.mu.Unlock()
		for _, collection := range topics {
			r.join(collection)
			// Anything may have changed while disconnected.
			_ = r.local.Publish(ctx, collection)
		}
	}
}

func (r *Realtime) read(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if collection, ok := r.changedCollection(msg); ok {
			_ = r.local.Publish(context.Background(), collection)
		}
	}
}

// changedCollection extracts the table from a change frame.
func (r *Realtime) changedCollection(msg []byte) (string, bool) {
	if !gjson.ValidBytes(msg) {
		return "", false
	}
	frame := gjson.ParseBytes(msg)
	switch frame.Get("event").String() {
	case "postgres_changes", "INSERT", "UPDATE", "DELETE":
	case "phx_reply":
		if status := frame.Get("payload.status").String(); status != "" && status != "ok" {
			r.log.WithFields(map[string]interface{}{
				"topic":    frame.Get("topic").String(),
				"response": frame.Get("payload.response").Raw,
			}).Warn("realtime join rejected")
		}
		return "", false
	default:
		return "", false
	}
	if table := frame.Get("payload.data.table").String(); table != "" {
		return table, true
	}
	if table := frame.Get("payload.table").String(); table != "" {
		return table, true
	}
	topic := frame.Get("topic").String()
	if i := strings.LastIndex(topic, ":"); i >= 0 && i < len(topic)-1 {
		return topic[i+1:], true
	}
	return "", false
}
