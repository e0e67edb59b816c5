// Package async provides the Future type used by the suspending variants of
// the store, lock and cache APIs. A Future is resolved exactly once by the
// goroutine running the operation and can be awaited by any number of callers.
package async

import (
	"context"
	"fmt"
)

// Future holds the eventual result of an asynchronous operation.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn in a new goroutine and returns a Future resolved with its result.
// A panic inside fn resolves the Future with an error instead of crashing the
// process.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.val, f.err = zero, fmt.Errorf("cachify: async operation panicked: %v", r)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Resolved returns a Future that is already complete.
func Resolved[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v, err: err}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await suspends until the Future completes or ctx is done. Giving up on a
// Future does not stop the underlying operation; it observes its own context.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result blocks until the Future completes.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Then chains fn after f, running it in a new goroutine once f succeeds.
func Then[T, U any](ctx context.Context, f *Future[T], fn func(context.Context, T) (U, error)) *Future[U] {
	return Go(ctx, func(ctx context.Context) (U, error) {
		v, err := f.Await(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, v)
	})
}
