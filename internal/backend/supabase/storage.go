package supabase

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sivtheng/message-maxy/internal/backend"
)

// Storage implements backend.ObjectStore on a public Storage bucket.
type Storage struct {
	client *Client
	bucket string
}

var _ backend.ObjectStore = (*Storage)(nil)

// NewStorage creates an object store on bucket.
func NewStorage(client *Client, bucket string) (*Storage, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	return &Storage{client: client, bucket: bucket}, nil
}

func (s *Storage) objectPath(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return url.PathEscape(s.bucket) + "/" + strings.Join(segments, "/")
}

// Put uploads data, replacing any existing object at path.
func (s *Storage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if strings.TrimPrefix(path, "/") == "" {
		return fmt.Errorf("object path is required")
	}
	endpoint := s.client.baseURL + "/storage/v1/object/" + s.objectPath(path)
	req, err := s.client.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// URL returns the public URL of an uploaded object.
func (s *Storage) URL(ctx context.Context, path string) (string, error) {
	public := s.client.baseURL + "/storage/v1/object/public/" + s.objectPath(path)
	req, err := s.client.newRequest(ctx, http.MethodHead, public, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.do(req)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return "", fmt.Errorf("object %s: %w", path, backend.ErrNotFound)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("lookup %s: status %d", path, resp.StatusCode)
	}
	return public, nil
}
