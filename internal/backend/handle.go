package backend

import (
	"errors"
	"sync"
)

// Handle bundles the provider parts a process talks to. It is built once at
// startup and passed to every service that needs it. A nil part means the
// provider for it is not configured.
type Handle struct {
	Auth    Auth
	Docs    DocumentStore
	Objects ObjectStore

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// Status reports which parts of a handle are configured.
type Status struct {
	Auth    bool `json:"auth"`
	Docs    bool `json:"docs"`
	Objects bool `json:"objects"`
}

// Complete reports whether every part is present.
func (s Status) Complete() bool {
	return s.Auth && s.Docs && s.Objects
}

// Status reports which parts are configured. A nil handle has none.
func (h *Handle) Status() Status {
	if h == nil {
		return Status{}
	}
	return Status{Auth: h.Auth != nil, Docs: h.Docs != nil, Objects: h.Objects != nil}
}

// OnClose registers fn to run when the handle is closed. Closers run in
// reverse registration order.
func (h *Handle) OnClose(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closers = append(h.closers, fn)
}

// Close releases provider resources. It is safe to call more than once.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
