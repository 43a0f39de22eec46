package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Opener constructs the store for a Handle.
type Opener func(ctx context.Context) (*Store, error)

// Handle opens the store on first use and shares it afterwards. Loading the
// embedding model is expensive, so concurrent first callers wait for a single
// construction instead of racing to build their own.
type Handle struct {
	open Opener

	ready atomic.Pointer[Store]

	mu     sync.Mutex
	store  *Store
	err    error
	done   bool
	closed bool
}

// NewHandle returns a handle that calls open at most once.
func NewHandle(open Opener) *Handle {
	return &Handle{open: open}
}

// Get returns the shared store, opening it if needed. A store that failed to
// open is returned with its error on every call. Only a context error from
// the first attempt allows a later retry.
func (h *Handle) Get(ctx context.Context) (*Store, error) {
	if s := h.ready.Load(); s != nil {
		return s, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrUninitialized
	}
	if h.done {
		return h.store, h.err
	}

	s, err := h.open(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		if s != nil {
			_ = s.Close()
		}
		return nil, err
	}
	h.store, h.err, h.done = s, err, true
	if err == nil && s != nil {
		h.ready.Store(s)
	}
	return s, err
}

// Peek returns the store if it has been opened, without opening it.
func (h *Handle) Peek() *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store
}

// Close closes the store if it was opened. The handle cannot be reused.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.ready.Store(nil)
	if h.store == nil {
		return nil
	}
	err := h.store.Close()
	h.store = nil
	return err
}
