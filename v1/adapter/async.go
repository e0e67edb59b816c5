package adapter

import (
	"context"
	"time"

	"github.com/mirkobrombin/go-cachify/v1/async"
)

// AsyncWrapper exposes a Store through the AsyncStore interface. Each call
// runs the wrapped operation in its own goroutine, so both views observe the
// same keys.
type AsyncWrapper struct {
	store Store
}

// NewAsync returns an AsyncStore backed by s.
func NewAsync(s Store) *AsyncWrapper {
	return &AsyncWrapper{store: s}
}

// Store returns the wrapped blocking store.
func (w *AsyncWrapper) Store() Store { return w.store }

// GetAsync implements AsyncStore.GetAsync.
func (w *AsyncWrapper) GetAsync(ctx context.Context, key string) *async.Future[Item] {
	return async.Go(ctx, func(ctx context.Context) (Item, error) {
		v, ok, err := w.store.Get(ctx, key)
		return Item{Value: v, Found: ok}, err
	})
}

// SetAsync implements AsyncStore.SetAsync.
func (w *AsyncWrapper) SetAsync(ctx context.Context, key string, value []byte, ttl time.Duration) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.Set(ctx, key, value, ttl)
	})
}

// DeleteAsync implements AsyncStore.DeleteAsync.
func (w *AsyncWrapper) DeleteAsync(ctx context.Context, key string) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.Delete(ctx, key)
	})
}

// SetNXAsync implements AsyncStore.SetNXAsync.
func (w *AsyncWrapper) SetNXAsync(ctx context.Context, key string, value []byte, ttl time.Duration) *async.Future[bool] {
	return async.Go(ctx, func(ctx context.Context) (bool, error) {
		return SetNX(ctx, w.store, key, value, ttl)
	})
}
