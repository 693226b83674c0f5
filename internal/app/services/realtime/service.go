// Package realtime pushes conversation snapshots to subscribers as the
// underlying message collection changes.
package realtime

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	"github.com/Sivtheng/message-maxy/internal/app/metrics"
	"github.com/Sivtheng/message-maxy/internal/app/services/messaging"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// Service opens live conversation subscriptions.
type Service struct {
	backend *backend.Handle
	log     *logger.Logger
}

// New creates the service.
func New(handle *backend.Handle, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("realtime")
	}
	if handle == nil {
		handle = &backend.Handle{}
	}
	return &Service{backend: handle, log: log}
}

// ConversationQuery selects every message whose sender and receiver are both
// in {a, b}. For a != b this also matches a's and b's notes to themselves,
// which OnMessagesUpdate drops.
func ConversationQuery(a, b string) backend.Query {
	return backend.Query{
		Collection: message.Collection,
		Where: []backend.Filter{
			backend.WhereIn(message.FieldSender, a, b),
			backend.WhereIn(message.FieldReceiver, a, b),
		},
		OrderBy: message.FieldTimestamp,
	}
}

// Conversation keeps the messages exchanged between a and b, in order.
func Conversation(docs []backend.Document, a, b string) []message.Message {
	out := make([]message.Message, 0, len(docs))
	for _, doc := range docs {
		m := messaging.MessageFrom(doc)
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	return out
}

// OnMessagesUpdate calls fn with the full conversation between currentUserID
// and selectedUserID, once immediately and again after every change to it.
// Changes that leave the conversation as it was, such as a note to self, are
// not delivered. Callbacks for one subscription never overlap. The
// subscription ends when the returned func is called or ctx is done; no call
// to fn starts after the func returns, and fn may call it itself. With no
// document store configured it returns a no-op and fn is never called.
func (s *Service) OnMessagesUpdate(ctx context.Context, currentUserID, selectedUserID string, fn func([]message.Message)) (backend.Unsubscribe, error) {
	docs := s.backend.Docs
	if docs == nil {
		return func() {}, nil
	}
	if fn == nil {
		return nil, fmt.Errorf("messages callback is required")
	}
	if currentUserID == "" || selectedUserID == "" {
		return nil, fmt.Errorf("both conversation members are required")
	}

	var (
		last      []message.Message
		delivered bool
	)
	stopWatch, err := docs.Watch(ctx, ConversationQuery(currentUserID, selectedUserID), func(found []backend.Document) {
		msgs := Conversation(found, currentUserID, selectedUserID)
		if delivered && reflect.DeepEqual(last, msgs) {
			return
		}
		last, delivered = msgs, true
		metrics.RecordLiveDelivery()
		fn(msgs)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to conversation: %w", err)
	}
	metrics.LiveSubscriptionOpened()
	s.log.WithFields(map[string]interface{}{
		"user": currentUserID,
		"peer": selectedUserID,
	}).Debug("conversation subscription opened")

	var once sync.Once
	stop := func() {
		once.Do(func() {
			stopWatch()
			metrics.LiveSubscriptionClosed()
		})
	}
	stopAfter := context.AfterFunc(ctx, stop)
	return func() {
		stopAfter()
		stop()
	}, nil
}
