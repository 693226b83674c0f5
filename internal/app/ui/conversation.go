package ui

import (
	"context"
	"sync"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// Conversation follows the thread with the selected peer and pushes a fresh
// Thread to its sink on every change. At most one subscription is open.
type Conversation struct {
	sub    Subscriber
	userID string
	sink   func(Thread)
	log    *logger.Logger

	mu     sync.Mutex
	peerID string
	stop   backend.Unsubscribe
	// gen changes on every Select and Close; callbacks of older
	// subscriptions see a stale value and drop their snapshot.
	gen uint64
}

// NewConversation creates a controller for userID. The sink is called from
// subscription goroutines, one call at a time. It must not call back into
// the Conversation.
func NewConversation(sub Subscriber, userID string, sink func(Thread), log *logger.Logger) *Conversation {
	if log == nil {
		log = logger.NewDefault("conversation")
	}
	return &Conversation{sub: sub, userID: userID, sink: sink, log: log}
}

// Select switches to peerID. The previous subscription is torn down before
// the next one opens, so no Thread for the old peer is pushed once Select
// returns. An empty peerID pushes the placeholder pane.
func (c *Conversation) Select(ctx context.Context, peerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	c.peerID = peerID
	if peerID == "" {
		c.sink(NewThread(c.userID, "", nil))
		return nil
	}

	gen := c.gen
	stop, err := c.sub.OnMessagesUpdate(ctx, c.userID, peerID, func(msgs []message.Message) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		c.sink(NewThread(c.userID, peerID, msgs))
	})
	if err != nil {
		c.log.WithError(err).WithField("peer", peerID).Warn("open conversation")
		return err
	}
	c.stop = stop
	return nil
}

// Peer returns the selected peer id.
func (c *Conversation) Peer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Close ends the current subscription.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.peerID = ""
}

func (c *Conversation) closeLocked() {
	c.gen++
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
}
