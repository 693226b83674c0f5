package messaging

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	"github.com/Sivtheng/message-maxy/internal/app/metrics"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/ordered"
)

// AddMessage stores a message and returns its id. The timestamp is assigned
// by the store. It returns "" when no document store is configured.
func (s *Service) AddMessage(ctx context.Context, draft message.Draft) (string, error) {
	docs := s.backend.Docs
	if docs == nil {
		return "", nil
	}
	if draft.SenderID == "" || draft.ReceiverID == "" {
		return "", fmt.Errorf("add message: sender and receiver are required")
	}

	fields := backend.Fields{
		message.FieldSender:    draft.SenderID,
		message.FieldReceiver:  draft.ReceiverID,
		message.FieldContent:   draft.Content,
		message.FieldTimestamp: backend.ServerTimestamp,
	}
	if draft.MediaType != message.MediaNone {
		fields[message.FieldMediaType] = string(draft.MediaType)
		fields[message.FieldMediaURL] = draft.MediaURL
	}

	id, err := docs.Add(ctx, message.Collection, fields)
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	metrics.RecordMessageSent(string(draft.MediaType))
	s.log.WithFields(map[string]interface{}{
		"message_id": id,
		"sender":     draft.SenderID,
		"receiver":   draft.ReceiverID,
		"media":      string(draft.MediaType),
	}).Debug("message added")
	return id, nil
}

// GetMessages returns the conversation between a and b ordered by timestamp.
// Each direction is read by its own query; both run concurrently and their
// ordered results are merged.
func (s *Service) GetMessages(ctx context.Context, a, b string) ([]message.Message, error) {
	docs := s.backend.Docs
	if docs == nil {
		return []message.Message{}, nil
	}

	directions := [2][2]string{{a, b}, {b, a}}
	results := make([][]message.Message, len(directions))
	g, gctx := errgroup.WithContext(ctx)
	for i, dir := range directions {
		i, dir := i, dir
		g.Go(func() error {
			found, err := docs.Query(gctx, backend.Query{
				Collection: message.Collection,
				Where: []backend.Filter{
					backend.Where(message.FieldReceiver, dir[1]),
					backend.Where(message.FieldSender, dir[0]),
				},
				OrderBy: message.FieldTimestamp,
			})
			if err != nil {
				return err
			}
			results[i] = MessagesFrom(found)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return ordered.MergeFunc(CompareMessages, messageID, results...), nil
}

// SendMessageWithMedia stores a message, uploading media first when given.
// Attachments are stored at messages/<sender>/<unix millis>_<name>. It
// returns "" when media is given but no object store is configured.
func (s *Service) SendMessageWithMedia(ctx context.Context, senderID, receiverID, content string, media *message.Media) (string, error) {
	draft := message.Draft{SenderID: senderID, ReceiverID: receiverID, Content: content}
	if media == nil {
		return s.AddMessage(ctx, draft)
	}

	objects := s.backend.Objects
	if objects == nil {
		return "", nil
	}
	objectPath := fmt.Sprintf("messages/%s/%d_%s", senderID, s.now().UnixMilli(), fileName(media.Name))
	if err := objects.Put(ctx, objectPath, media.Data, media.ContentType); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	url, err := objects.URL(ctx, objectPath)
	if err != nil {
		return "", fmt.Errorf("resolve media url: %w", err)
	}
	metrics.RecordMediaUpload(len(media.Data))

	draft.MediaType = message.MediaTypeFor(media.ContentType)
	draft.MediaURL = url
	return s.AddMessage(ctx, draft)
}

// fileName keeps the last element of a client-supplied name so it cannot
// escape the sender's folder.
func fileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "upload"
	}
	return base
}

// DeleteMessage removes a message sent by the caller.
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	session, ok := backend.SessionFromContext(ctx)
	if !ok {
		return ErrNoCurrentUser
	}
	docs := s.backend.Docs
	if docs == nil {
		return nil
	}
	doc, err := docs.Get(ctx, message.Collection, id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if MessageFrom(doc).SenderID != session.Identity.UID {
		return ErrForbidden
	}
	if err := docs.Delete(ctx, message.Collection, id); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}
