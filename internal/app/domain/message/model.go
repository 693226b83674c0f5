package message

import (
	"strings"
	"time"
)

// Collection is the document collection holding messages.
const Collection = "messages"

// Document field names.
const (
	FieldSender    = "senderID"
	FieldReceiver  = "receiverID"
	FieldContent   = "content"
	FieldTimestamp = "timestamp"
	FieldMediaType = "mediaType"
	FieldMediaURL  = "mediaUrl"
)

// MediaType classifies an attachment.
type MediaType string

const (
	MediaNone  MediaType = ""
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// MediaTypeFor classifies a declared MIME type: image/* is an image and
// anything else is treated as video.
func MediaTypeFor(contentType string) MediaType {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return MediaImage
	}
	return MediaVideo
}

// Message is one chat message. Timestamp is assigned by the store.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderID"`
	ReceiverID string    `json:"receiverID"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	MediaType  MediaType `json:"mediaType,omitempty"`
	MediaURL   string    `json:"mediaUrl,omitempty"`
}

// Between reports whether m was exchanged between a and b, in either
// direction.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// HasMedia reports whether the message carries an attachment.
func (m Message) HasMedia() bool {
	return m.MediaType != MediaNone && m.MediaURL != ""
}

// Draft is a message before it is stored.
type Draft struct {
	SenderID   string
	ReceiverID string
	Content    string
	MediaType  MediaType
	MediaURL   string
}

// Media is an attachment to upload with a message.
type Media struct {
	Name        string
	ContentType string
	Data        []byte
}
