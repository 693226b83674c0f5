package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Sivtheng/message-maxy/internal/backend"
)

// Objects is an in-memory backend.ObjectStore whose URLs point at this
// process's media route.
type Objects struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]backend.Object
}

var (
	_ backend.ObjectStore  = (*Objects)(nil)
	_ backend.ObjectOpener = (*Objects)(nil)
)

// NewObjects creates a store. baseURL is the public origin of the service,
// e.g. "http://localhost:8080"; it may be empty for relative URLs.
func NewObjects(baseURL string) *Objects {
	return &Objects{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]backend.Object),
	}
}

func (o *Objects) Put(_ context.Context, path string, data []byte, contentType string) error {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return fmt.Errorf("object path is required")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[path] = backend.Object{Path: path, ContentType: contentType, Data: buf}
	return nil
}

func (o *Objects) URL(_ context.Context, path string) (string, error) {
	path = strings.TrimPrefix(path, "/")
	o.mu.RLock()
	_, ok := o.objects[path]
	o.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s: %w", path, backend.ErrNotFound)
	}
	return backend.MediaURL(o.baseURL, path), nil
}

func (o *Objects) Open(_ context.Context, path string) (backend.Object, error) {
	path = strings.TrimPrefix(path, "/")
	o.mu.RLock()
	defer o.mu.RUnlock()
	obj, ok := o.objects[path]
	if !ok {
		return backend.Object{}, fmt.Errorf("object %s: %w", path, backend.ErrNotFound)
	}
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	obj.Data = data
	return obj, nil
}
