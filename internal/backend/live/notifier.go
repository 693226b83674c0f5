// Package live turns collection change notifications into live queries that
// re-deliver the full ordered result set after every relevant change.
package live

import (
	"context"
	"sync"
)

// Notifier carries "collection changed" signals between writers and watchers.
// Signals carry no payload; watchers re-run their query on receipt.
type Notifier interface {
	Publish(ctx context.Context, collection string) error
	Subscribe(ctx context.Context, collection string) (<-chan struct{}, func(), error)
}

// signal performs a coalescing, non-blocking send.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// LocalNotifier fans signals out to subscribers in the same process.
type LocalNotifier struct {
	mu   sync.RWMutex
	subs map[string]map[chan struct{}]struct{}
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every subscriber of collection.
func (n *LocalNotifier) Publish(_ context.Context, collection string) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subs[collection] {
		signal(ch)
	}
	return nil
}

// Subscribe registers a subscriber. The returned cancel func is idempotent.
func (n *LocalNotifier) Subscribe(_ context.Context, collection string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.subs[collection] == nil {
		n.subs[collection] = make(map[chan struct{}]struct{})
	}
	n.subs[collection][ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[collection], ch)
			if len(n.subs[collection]) == 0 {
				delete(n.subs, collection)
			}
			n.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

// Subscribers reports the number of subscribers for collection.
func (n *LocalNotifier) Subscribers(collection string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[collection])
}
