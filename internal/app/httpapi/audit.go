package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Sivtheng/message-maxy/internal/httputil"
	"github.com/Sivtheng/message-maxy/internal/middleware"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// auditEntry records one account action.
type auditEntry struct {
	Time       time.Time `json:"time"`
	Action     string    `json:"action"`
	User       string    `json:"user,omitempty"`
	Target     string    `json:"target,omitempty"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

type auditLog struct {
	mu      sync.Mutex
	entries []auditEntry
	max     int
	sink    auditSink
	now     func() time.Time
}

type auditSink interface {
	Write(entry auditEntry) error
}

func newAuditLog(max int, sink auditSink) *auditLog {
	if max <= 0 {
		max = 200
	}
	l := &auditLog{max: max, now: time.Now}
	// A typed nil *fileAuditSink must not become a non-nil interface.
	if fs, ok := sink.(*fileAuditSink); !ok || fs != nil {
		l.sink = sink
	}
	return l
}

func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.Time.IsZero() {
		entry.Time = l.now().UTC()
	}
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(entry)
	}
}

func (l *auditLog) list() []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]auditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// forUser returns the newest limit entries where uid acted, oldest first.
func (l *auditLog) forUser(uid string, limit int) []auditEntry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	out := []auditEntry{}
	for _, e := range l.list() {
		if e.User == uid {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// entry builds an audit entry for r. The actor is the signed-in user, or
// subject for anonymous requests such as sign-in.
func (h *handler) entry(r *http.Request, action, subject string, status int) auditEntry {
	actor := middleware.GetUserID(r)
	if actor == "" {
		actor = subject
	}
	return auditEntry{
		Action:     action,
		User:       actor,
		Target:     subject,
		Path:       r.URL.Path,
		Method:     r.Method,
		Status:     status,
		TraceID:    logger.TraceID(r.Context()),
		RemoteAddr: httputil.ClientIP(r, h.opts.TrustProxy),
		UserAgent:  r.UserAgent(),
	}
}

// record audits action with the status err maps to.
func (h *handler) record(r *http.Request, action, subject string, err error) {
	status := http.StatusOK
	if err != nil {
		status = serviceError(err).HTTPStatus
	}
	h.audit.add(h.entry(r, action, subject, status))
}

// fileAuditSink appends audit entries as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry auditEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
