package ui

import (
	"time"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
)

// MessageView is one rendered message.
type MessageView struct {
	ID        string            `json:"id"`
	SenderID  string            `json:"senderId"`
	Content   string            `json:"content"`
	MediaType message.MediaType `json:"mediaType,omitempty"`
	MediaURL  string            `json:"mediaUrl,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Mine      bool              `json:"mine"`
	// CanDelete gates the per-message delete affordance.
	CanDelete bool `json:"canDelete"`
}

// Thread is the message pane for one conversation.
type Thread struct {
	PeerID   string        `json:"peerId,omitempty"`
	Messages []MessageView `json:"messages"`
	// ScrollTo is the id of the newest message; clients scroll to it whenever
	// it changes.
	ScrollTo    string `json:"scrollTo,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// NewThread renders msgs as seen by currentUserID. An empty peerID renders
// the placeholder pane.
func NewThread(currentUserID, peerID string, msgs []message.Message) Thread {
	if peerID == "" {
		return Thread{Messages: []MessageView{}, Placeholder: TextSelectUser}
	}
	t := Thread{PeerID: peerID, Messages: make([]MessageView, 0, len(msgs))}
	for _, m := range msgs {
		mine := m.SenderID == currentUserID
		t.Messages = append(t.Messages, MessageView{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			MediaType: m.MediaType,
			MediaURL:  m.MediaURL,
			Timestamp: m.Timestamp,
			Mine:      mine,
			CanDelete: mine,
		})
	}
	if n := len(t.Messages); n > 0 {
		t.ScrollTo = t.Messages[n-1].ID
	}
	return t
}
