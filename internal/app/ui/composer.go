package ui

import (
	"context"
	"strings"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
)

// KeyEvent is a keystroke in the message input.
type KeyEvent struct {
	Key   string `json:"key"`
	Shift bool   `json:"shiftKey,omitempty"`
	Ctrl  bool   `json:"ctrlKey,omitempty"`
	Alt   bool   `json:"altKey,omitempty"`
	Meta  bool   `json:"metaKey,omitempty"`
}

// SubmitsOn reports whether ev sends the message: a plain Enter with no
// modifier held.
func SubmitsOn(ev KeyEvent) bool {
	return ev.Key == "Enter" && !ev.Shift && !ev.Ctrl && !ev.Alt && !ev.Meta
}

// Composer sends messages from one user to one peer.
type Composer struct {
	sender Sender
	from   string
	to     string
}

// NewComposer binds a composer to a conversation.
func NewComposer(sender Sender, from, to string) *Composer {
	return &Composer{sender: sender, from: from, to: to}
}

// Send posts text and optional media. Whitespace-only text with no media is
// not sent and reports ("", nil).
func (c *Composer) Send(ctx context.Context, text string, media *message.Media) (string, error) {
	if c.to == "" || (strings.TrimSpace(text) == "" && media == nil) {
		return "", nil
	}
	return c.sender.SendMessageWithMedia(ctx, c.from, c.to, text, media)
}

// SendOnKey sends text when ev is a submit keystroke.
func (c *Composer) SendOnKey(ctx context.Context, ev KeyEvent, text string) (string, error) {
	if !SubmitsOn(ev) {
		return "", nil
	}
	return c.Send(ctx, text, nil)
}
