package live

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// QueryFunc runs a one-shot query against the underlying store.
type QueryFunc func(ctx context.Context, q backend.Query) ([]backend.Document, error)

// Feed implements backend.DocumentStore.Watch on top of a one-shot query and
// a Notifier.
type Feed struct {
	query    QueryFunc
	notifier Notifier
	log      *logger.Logger
	active   atomic.Int64
}

// NewFeed builds a feed.
func NewFeed(query QueryFunc, notifier Notifier, log *logger.Logger) *Feed {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	if log == nil {
		log = logger.NewDefault("live")
	}
	return &Feed{query: query, notifier: notifier, log: log}
}

// Notifier returns the feed's notifier so writers can publish to it.
func (f *Feed) Notifier() Notifier {
	return f.notifier
}

// Changed publishes a change to collection, logging instead of failing: a
// missed signal only delays watchers until the next change.
func (f *Feed) Changed(ctx context.Context, collection string) {
	if err := f.notifier.Publish(ctx, collection); err != nil {
		f.log.WithError(err).WithField("collection", collection).Warn("publish change")
	}
}

// Active reports the number of running subscriptions.
func (f *Feed) Active() int {
	return int(f.active.Load())
}

// Watch delivers the result of q to fn immediately and again whenever a
// change to q.Collection alters the result. Calls to fn are sequential. The
// subscription ends when the returned func is called or ctx is done; no call
// to fn starts after that. The returned func never waits for fn, so fn may
// call it.
func (f *Feed) Watch(ctx context.Context, q backend.Query, fn func([]backend.Document)) (backend.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("watch callback is required")
	}

	wctx, cancel := context.WithCancel(ctx)
	// Subscribe before the first read so no change can slip between them.
	changes, unsubscribe, err := f.notifier.Subscribe(wctx, q.Collection)
	if err != nil {
		cancel()
		return nil, err
	}
	initial, err := f.query(wctx, q)
	if err != nil {
		unsubscribe()
		cancel()
		return nil, err
	}

	w := &watch{
		feed:        f,
		ctx:         wctx,
		cancel:      cancel,
		query:       q,
		fn:          fn,
		changes:     changes,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}
	f.active.Add(1)
	go w.run(initial)
	return w.stop, nil
}

type watch struct {
	feed        *Feed
	ctx         context.Context
	cancel      context.CancelFunc
	query       backend.Query
	fn          func([]backend.Document)
	changes     <-chan struct{}
	unsubscribe func()
	done        chan struct{}
	stopped     atomic.Bool

	// last is owned by the run goroutine.
	last []backend.Document
}

func (w *watch) run(initial []backend.Document) {
	defer close(w.done)
	defer w.feed.active.Add(-1)
	defer w.unsubscribe()

	w.deliver(initial, true)
	for {
		select {
		case <-w.ctx.Done():
			return
		case _, ok := <-w.changes:
			if !ok {
				return
			}
			docs, err := w.feed.query(w.ctx, w.query)
			if err != nil {
				if w.ctx.Err() != nil {
					return
				}
				w.feed.log.WithError(err).WithField("collection", w.query.Collection).Warn("refresh live query")
				continue
			}
			w.deliver(docs, false)
		}
	}
}

func (w *watch) deliver(docs []backend.Document, first bool) {
	if w.stopped.Load() {
		return
	}
	if !first && reflect.DeepEqual(w.last, docs) {
		return
	}
	w.last = docs
	w.fn(cloneDocs(docs))
}

func (w *watch) stop() {
	if w.stopped.CompareAndSwap(false, true) {
		w.cancel()
	}
}

func cloneDocs(docs []backend.Document) []backend.Document {
	out := make([]backend.Document, len(docs))
	for i, d := range docs {
		out[i] = backend.Document{ID: d.ID, Fields: d.Fields.Clone()}
	}
	return out
}
