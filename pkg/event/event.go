// Package event provides ordered observer lists.
//
// Handlers are invoked sequentially in registration order. A failing (or
// panicking) handler does not prevent the remaining handlers from running;
// failures are collected and returned to the publisher.
//
//	var started event.Handlers[TrackStarted]
//	started.Add(func(ctx context.Context, e TrackStarted) error {
//	    log.Println("started", e.Track.Info.Title)
//	    return nil
//	})
//	err := started.Invoke(ctx, TrackStarted{...})
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handler observes a value of type T.
type Handler[T any] func(ctx context.Context, value T) error

// Handlers is a list of observers for one event kind. The zero value is ready to use.
type Handlers[T any] struct {
	mu     sync.RWMutex
	nextID int
	list   []entry[T]
}

type entry[T any] struct {
	id int
	fn Handler[T]
}

// Add registers fn and returns a function that removes it again.
func (h *Handlers[T]) Add(fn Handler[T]) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.list = append(h.list, entry[T]{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.list {
			if e.id == id {
				h.list = append(h.list[:i:i], h.list[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered handlers.
func (h *Handlers[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.list)
}

// Invoke calls every handler in registration order and joins their errors.
func (h *Handlers[T]) Invoke(ctx context.Context, value T) error {
	h.mu.RLock()
	list := make([]entry[T], len(h.list))
	copy(list, h.list)
	h.mu.RUnlock()

	var errs []error
	for _, e := range list {
		if err := call(ctx, e.fn, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call[T any](ctx context.Context, fn Handler[T], value T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return fn(ctx, value)
}
