// Package messaging is the data-access layer: profiles, messages, media and
// the account flows built on the auth provider.
//
// Data operations degrade when the handle lacks the part they need: reads
// return empty results and writes are skipped. Account operations return
// backend.ErrNotConfigured instead, since callers must not mistake a skipped
// sign-in for a successful one.
package messaging

import (
	"errors"
	"time"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	"github.com/Sivtheng/message-maxy/internal/app/domain/user"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// DefaultUserLimit is the page size of GetAllUsers.
const DefaultUserLimit = 20

var (
	// ErrInvalidCredentials is the single error returned for any failed
	// sign-in, whatever the cause.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrEnvironmentBlocked is returned when the provider reports that a
	// browser extension or security setting blocked the request.
	ErrEnvironmentBlocked = errors.New("sign-in blocked by browser security settings")
	// ErrNoCurrentUser is returned by operations that need a session.
	ErrNoCurrentUser = errors.New("no user is currently signed in")
	// ErrForbidden is returned when the caller does not own the target.
	ErrForbidden = errors.New("operation not permitted for this user")
)

// Service implements the data-access operations over a backend handle.
type Service struct {
	backend *backend.Handle
	log     *logger.Logger
	now     func() time.Time
}

// New creates the service. The handle is shared and never replaced.
func New(handle *backend.Handle, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("messaging")
	}
	if handle == nil {
		handle = &backend.Handle{}
	}
	return &Service{backend: handle, log: log, now: time.Now}
}

// WithClock overrides the clock used for upload paths.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Backend returns the handle the service was built with.
func (s *Service) Backend() *backend.Handle {
	return s.backend
}

func profileFrom(doc backend.Document) user.Profile {
	p := user.Profile{
		ID:    doc.ID,
		Name:  doc.Fields.String("name"),
		Email: doc.Fields.String("email"),
	}
	if ts, ok := doc.Fields.Time("createdAt"); ok {
		p.CreatedAt = ts
	}
	return p
}

// MessageFrom decodes a message document.
func MessageFrom(doc backend.Document) message.Message {
	m := message.Message{
		ID:         doc.ID,
		SenderID:   doc.Fields.String(message.FieldSender),
		ReceiverID: doc.Fields.String(message.FieldReceiver),
		Content:    doc.Fields.String(message.FieldContent),
		MediaType:  message.MediaType(doc.Fields.String(message.FieldMediaType)),
		MediaURL:   doc.Fields.String(message.FieldMediaURL),
	}
	if ts, ok := doc.Fields.Time(message.FieldTimestamp); ok {
		m.Timestamp = ts
	}
	return m
}

// MessagesFrom decodes a result set, keeping its order.
func MessagesFrom(docs []backend.Document) []message.Message {
	out := make([]message.Message, 0, len(docs))
	for _, doc := range docs {
		out = append(out, MessageFrom(doc))
	}
	return out
}

// CompareMessages orders messages by timestamp, then id.
func CompareMessages(a, b message.Message) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func messageID(m message.Message) string { return m.ID }
