package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Sivtheng/message-maxy/internal/app/ui"
	"github.com/Sivtheng/message-maxy/internal/middleware"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveReadLimit  = 64 << 10
	liveQueue      = 16
)

// Live event types sent to the client.
const (
	eventThread = "thread"
	eventSent   = "sent"
	eventError  = "error"
)

// Live command types accepted from the client.
const (
	commandSend   = "send"
	commandKey    = "key"
	commandSelect = "select"
)

type liveEvent struct {
	Type   string     `json:"type"`
	Thread *ui.Thread `json:"thread,omitempty"`
	ID     string     `json:"id,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type liveCommand struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	Key     ui.KeyEvent `json:"key"`
	Peer    string      `json:"peer,omitempty"`
}

// live streams the conversation with {peer} over a websocket. Every change
// pushes the full thread. The client may send messages and switch peers over
// the same socket.
func (h *handler) live(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := &liveSession{
		conn: conn,
		send: make(chan liveEvent, liveQueue),
		done: make(chan struct{}),
		log:  h.log.Named("live"),
	}
	conv := h.app.Conversation(uid, func(t ui.Thread) {
		s.push(liveEvent{Type: eventThread, Thread: &t})
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx)
	}()

	if err := conv.Select(ctx, mux.Vars(r)["peer"]); err != nil {
		s.push(liveEvent{Type: eventError, Error: ui.ErrorText(err)})
	}
	s.readPump(ctx, func(cmd liveCommand) {
		h.handleLiveCommand(ctx, uid, conv, s, cmd)
	})

	conv.Close()
	cancel()
	<-writerDone
}

func (h *handler) handleLiveCommand(ctx context.Context, uid string, conv *ui.Conversation, s *liveSession, cmd liveCommand) {
	composer := h.app.Composer(uid, conv.Peer())

	var (
		id  string
		err error
	)
	switch cmd.Type {
	case commandSend:
		id, err = composer.Send(ctx, cmd.Content, nil)
	case commandKey:
		id, err = composer.SendOnKey(ctx, cmd.Key, cmd.Content)
	case commandSelect:
		err = conv.Select(ctx, cmd.Peer)
	default:
		s.push(liveEvent{Type: eventError, Error: "unknown command " + cmd.Type})
		return
	}

	switch {
	case err != nil:
		s.push(liveEvent{Type: eventError, Error: ui.ErrorText(err)})
	case id != "":
		s.push(liveEvent{Type: eventSent, ID: id})
	}
}

// checkOrigin accepts same-host pages, configured CORS origins and clients
// that send no Origin at all.
func (h *handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host == r.Host {
		return true
	}
	return h.cors.Allows(origin)
}

type liveSession struct {
	conn *websocket.Conn
	send chan liveEvent
	done chan struct{}
	once sync.Once
	log  *logger.Logger
}

// push queues ev without blocking. When the queue is full the oldest event
// is dropped; threads are full snapshots so the newest one wins.
func (s *liveSession) push(ev liveEvent) {
	for {
		select {
		case <-s.done:
			return
		case s.send <- ev:
			return
		default:
		}
		select {
		case <-s.send:
		default:
		}
	}
}

func (s *liveSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *liveSession) readPump(ctx context.Context, handle func(liveCommand)) {
	defer s.close()

	s.conn.SetReadLimit(liveReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(livePongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for ctx.Err() == nil {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("live connection dropped")
			}
			return
		}
		var cmd liveCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.push(liveEvent{Type: eventError, Error: "invalid command"})
			continue
		}
		handle(cmd)
	}
}

func (s *liveSession) writePump(ctx context.Context) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			return
		case <-s.done:
			return
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
