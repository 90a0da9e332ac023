// Package future implements a single-assignment value that many goroutines
// can wait on.
package future

import (
	"context"
	"sync"
)

// Future is resolved at most once, either with a value or with an error.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future with v. It reports false if the future was
// already completed.
func (f *Future[T]) Resolve(v T) bool {
	ok := false
	f.once.Do(func() {
		f.value = v
		close(f.done)
		ok = true
	})
	return ok
}

// Fail completes the future with err.
func (f *Future[T]) Fail(err error) bool {
	ok := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		ok = true
	})
	return ok
}

// Done is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Completed reports whether the future holds a value or an error.
func (f *Future[T]) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking. ok is false while unresolved.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	if !f.Completed() {
		return v, nil, false
	}
	return f.value, f.err, true
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
