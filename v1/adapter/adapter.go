// Package adapter defines the key-value store contract used by cachify and
// ships in-memory, Redis, ristretto and NATS JetStream implementations.
// Values are opaque byte slices; encoding is the caller's concern.
package adapter

import (
	"context"
	"time"

	"github.com/mirkobrombin/go-cachify/v1/async"
)

// Store is the blocking view of a backing store.
type Store interface {
	// Get retrieves the value for a key. The boolean return reports whether
	// the key was present, independently of the value itself.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value unconditionally. A non-positive ttl means the
	// entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Adder is implemented by stores that can atomically set a key only when it
// is absent.
type Adder interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// Item is the result of an asynchronous Get.
type Item struct {
	Value []byte
	Found bool
}

// AsyncStore is the suspending view of a backing store. Every call returns
// immediately with a Future resolved once the operation completes.
type AsyncStore interface {
	GetAsync(ctx context.Context, key string) *async.Future[Item]
	SetAsync(ctx context.Context, key string, value []byte, ttl time.Duration) *async.Future[struct{}]
	DeleteAsync(ctx context.Context, key string) *async.Future[struct{}]
	SetNXAsync(ctx context.Context, key string, value []byte, ttl time.Duration) *async.Future[bool]
}

// SetNX sets key to value only if it is absent. Stores implementing Adder do
// it atomically; for the others a check followed by a set is used, which
// leaves a window where two callers can both observe the key as absent.
func SetNX(ctx context.Context, s Store, key string, value []byte, ttl time.Duration) (bool, error) {
	if a, ok := s.(Adder); ok {
		return a.SetNX(ctx, key, value, ttl)
	}
	_, found, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		return false, nil
	}
	if err := s.Set(ctx, key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}
