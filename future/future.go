// Package future provides a one-shot result container for operations that
// complete on a later turn of the event loop.
//
// Unlike a goroutine-backed future, fulfillment never spawns goroutines:
// callbacks registered with OnResult run synchronously, in registration
// order, on the call stack that fulfills the promise. A callback registered on
// an already-completed future runs immediately, inside OnResult. This is what
// lets an already-satisfied request resolve in the caller's own stack.
//
// Await is provided for callers outside the event loop (tests, blocking
// facades); it must never be called from the loop goroutine itself.
package future

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/amp-labs/amp-session/logger"
)

// Future is the read side of a one-shot result.
type Future[T any] struct {
	mu        sync.Mutex
	ready     chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// Promise is the write side of a one-shot result. Only the first
// fulfillment takes effect.
type Promise[T any] struct {
	future *Future[T]
}

// New creates a pending future and the promise that completes it.
func New[T any]() (*Future[T], *Promise[T]) {
	fut := &Future[T]{ready: make(chan struct{})}

	return fut, &Promise[T]{future: fut}
}

// Resolved returns a future that already holds value.
func Resolved[T any](value T) *Future[T] {
	fut, promise := New[T]()
	promise.Success(value)

	return fut
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	fut, promise := New[T]()
	promise.Failure(err)

	return fut
}

// Future returns the read side associated with the promise.
func (p *Promise[T]) Future() *Future[T] {
	return p.future
}

// Success fulfills the promise with value. Returns false if it was already fulfilled.
func (p *Promise[T]) Success(value T) bool {
	return p.fulfill(value, nil)
}

// Failure fulfills the promise with err. Returns false if it was already fulfilled.
func (p *Promise[T]) Failure(err error) bool {
	var zero T

	return p.fulfill(zero, err)
}

// Complete fulfills the promise following Go's (value, error) convention.
func (p *Promise[T]) Complete(value T, err error) bool {
	if err != nil {
		return p.Failure(err)
	}

	return p.Success(value)
}

func (p *Promise[T]) fulfill(value T, err error) bool {
	fut := p.future

	fut.mu.Lock()

	if fut.completed {
		fut.mu.Unlock()

		return false
	}

	fut.completed = true
	fut.value = value
	fut.err = err
	callbacks := fut.callbacks
	fut.callbacks = nil

	close(fut.ready)
	fut.mu.Unlock()

	for _, cb := range callbacks {
		invoke(cb, value, err)
	}

	return true
}

// OnResult registers cb to receive the outcome. If the future is already
// complete, cb runs before OnResult returns.
func (f *Future[T]) OnResult(cb func(T, error)) {
	if cb == nil {
		return
	}

	f.mu.Lock()

	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()

		return
	}

	value, err := f.value, f.err
	f.mu.Unlock()

	invoke(cb, value, err)
}

// Done reports whether the future has been fulfilled.
func (f *Future[T]) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.completed
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Result() (value T, err error, ok bool) { //nolint:revive
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.value, f.err, f.completed
}

// Await blocks until the future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()

		return f.value, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// Map derives a future whose value is transformed by fn once src completes.
// Errors from src pass through untouched.
func Map[A, B any](src *Future[A], fn func(A) (B, error)) *Future[B] {
	out, promise := New[B]()

	src.OnResult(func(value A, err error) {
		if err != nil {
			promise.Failure(err)

			return
		}

		promise.Complete(fn(value))
	})

	return out
}

// invoke runs a callback, recovering and logging a panic so that one faulty
// observer cannot prevent the remaining ones from being notified.
func invoke[T any](cb func(T, error), value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error("panic encountered in future callback",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	cb(value, err)
}
