// Package memory provides in-process document and object stores. They are
// safe for concurrent use and back local development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/live"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// Docs is an in-memory backend.DocumentStore.
type Docs struct {
	mu          sync.RWMutex
	collections map[string]map[string]backend.Fields
	feed        *live.Feed
	now         func() time.Time
}

var _ backend.DocumentStore = (*Docs)(nil)

// NewDocs creates an empty store. A nil notifier keeps change signals in
// process.
func NewDocs(notifier live.Notifier, log *logger.Logger) *Docs {
	d := &Docs{
		collections: make(map[string]map[string]backend.Fields),
		now:         time.Now,
	}
	d.feed = live.NewFeed(d.Query, notifier, log)
	return d
}

// WithClock overrides the clock used for server timestamps.
func (d *Docs) WithClock(now func() time.Time) *Docs {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
	return d
}

// Feed exposes the live query feed.
func (d *Docs) Feed() *live.Feed {
	return d.feed
}

func (d *Docs) Add(ctx context.Context, collection string, fields backend.Fields) (string, error) {
	id := uuid.NewString()
	if err := d.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Docs) Set(ctx context.Context, collection, id string, fields backend.Fields) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("collection and id are required")
	}

	d.mu.Lock()
	if d.collections[collection] == nil {
		d.collections[collection] = make(map[string]backend.Fields)
	}
	d.collections[collection][id] = fields.Resolve(d.now())
	d.mu.Unlock()

	d.feed.Changed(ctx, collection)
	return nil
}

func (d *Docs) Get(_ context.Context, collection, id string) (backend.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	fields, ok := d.collections[collection][id]
	if !ok {
		return backend.Document{}, fmt.Errorf("%s/%s: %w", collection, id, backend.ErrNotFound)
	}
	return backend.Document{ID: id, Fields: fields.Clone()}, nil
}

func (d *Docs) Delete(ctx context.Context, collection, id string) error {
	d.mu.Lock()
	if _, ok := d.collections[collection][id]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, backend.ErrNotFound)
	}
	delete(d.collections[collection], id)
	d.mu.Unlock()

	d.feed.Changed(ctx, collection)
	return nil
}

func (d *Docs) Query(_ context.Context, q backend.Query) ([]backend.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	docs := make([]backend.Document, 0, len(d.collections[q.Collection]))
	for id, fields := range d.collections[q.Collection] {
		docs = append(docs, backend.Document{ID: id, Fields: fields.Clone()})
	}
	d.mu.RUnlock()

	return backend.Evaluate(docs, q), nil
}

func (d *Docs) Watch(ctx context.Context, q backend.Query, fn func([]backend.Document)) (backend.Unsubscribe, error) {
	return d.feed.Watch(ctx, q, fn)
}

// Len reports the number of documents in collection.
func (d *Docs) Len(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.collections[collection])
}
