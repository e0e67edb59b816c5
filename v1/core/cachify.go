// Package core holds the Cachify configuration object shared by the lock and
// cache engines: the backing stores, the key prefix and the default lock
// expiration.
//
// A Cachify can be injected per call with NewContext, or installed as the
// process-wide default with Init. Init is meant to run once at start-up; it
// may be called again (tests do), but re-initializing while wrapped functions
// are running is not coordinated: in-flight calls may observe either
// configuration.
package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-cachify/v1/adapter"
	"github.com/mirkobrombin/go-cachify/v1/async"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
)

const (
	// DefaultPrefix is prepended to every key unless WithPrefix is used.
	DefaultPrefix = "cachify-"
	// DefaultLockExpiration is the lock TTL used unless WithLockExpiration is used.
	DefaultLockExpiration = 30 * time.Second
)

// Cachify is the active store configuration.
type Cachify struct {
	store          adapter.Store
	async          adapter.AsyncStore
	prefix         string
	lockExpiration time.Duration
}

// Option configures a Cachify.
type Option func(*Cachify)

// WithPrefix sets the prefix prepended to every key.
func WithPrefix(prefix string) Option {
	return func(c *Cachify) {
		c.prefix = prefix
	}
}

// WithLockExpiration sets the expiration applied to locks that do not choose
// their own. Zero means such locks never expire.
func WithLockExpiration(d time.Duration) Option {
	return func(c *Cachify) {
		if d < 0 {
			d = 0
		}
		c.lockExpiration = d
	}
}

// New returns a Cachify using store for blocking calls and as for
// suspending calls. When store is nil a new InMemoryStore is used; when as is
// nil the blocking store is wrapped with adapter.NewAsync, so both views
// share the same keys.
func New(store adapter.Store, as adapter.AsyncStore, opts ...Option) *Cachify {
	if store == nil {
		store = adapter.NewInMemoryStore()
	}
	if as == nil {
		as = adapter.NewAsync(store)
	}
	c := &Cachify{
		store:          store,
		async:          as,
		prefix:         DefaultPrefix,
		lockExpiration: DefaultLockExpiration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var global atomic.Pointer[Cachify]

// Init builds a Cachify with New and installs it as the process-wide
// default, replacing any previous one.
func Init(store adapter.Store, as adapter.AsyncStore, opts ...Option) *Cachify {
	c := New(store, as, opts...)
	global.Store(c)
	return c
}

// Current returns the process-wide Cachify or errors.ErrNotInitialized.
func Current() (*Cachify, error) {
	c := global.Load()
	if c == nil {
		return nil, cerrors.ErrNotInitialized
	}
	return c, nil
}

// Reset removes the process-wide Cachify. It is intended for tests.
func Reset() {
	global.Store(nil)
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *Cachify) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the Cachify carried by ctx, falling back to Current.
func FromContext(ctx context.Context) (*Cachify, error) {
	if c, ok := ctx.Value(ctxKey{}).(*Cachify); ok && c != nil {
		return c, nil
	}
	return Current()
}

// Prefix returns the key prefix.
func (c *Cachify) Prefix() string { return c.prefix }

// LockExpiration returns the default lock expiration; zero means none.
func (c *Cachify) LockExpiration() time.Duration { return c.lockExpiration }

// Store returns the blocking store.
func (c *Cachify) Store() adapter.Store { return c.store }

// AsyncStore returns the suspending store.
func (c *Cachify) AsyncStore() adapter.AsyncStore { return c.async }

// Key returns the fully qualified store key.
func (c *Cachify) Key(key string) string { return c.prefix + key }

// Get reads key from the blocking store.
func (c *Cachify) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.store.Get(ctx, c.Key(key))
}

// Set writes key to the blocking store.
func (c *Cachify) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.Set(ctx, c.Key(key), value, ttl)
}

// SetNX writes key to the blocking store only when it is absent.
func (c *Cachify) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return adapter.SetNX(ctx, c.store, c.Key(key), value, ttl)
}

// Delete removes key from the blocking store.
func (c *Cachify) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.Key(key))
}

// GetAsync reads key from the suspending store.
func (c *Cachify) GetAsync(ctx context.Context, key string) *async.Future[adapter.Item] {
	return c.async.GetAsync(ctx, c.Key(key))
}

// SetAsync writes key to the suspending store.
func (c *Cachify) SetAsync(ctx context.Context, key string, value []byte, ttl time.Duration) *async.Future[struct{}] {
	return c.async.SetAsync(ctx, c.Key(key), value, ttl)
}

// SetNXAsync writes key to the suspending store only when it is absent.
func (c *Cachify) SetNXAsync(ctx context.Context, key string, value []byte, ttl time.Duration) *async.Future[bool] {
	return c.async.SetNXAsync(ctx, c.Key(key), value, ttl)
}

// DeleteAsync removes key from the suspending store.
func (c *Cachify) DeleteAsync(ctx context.Context, key string) *async.Future[struct{}] {
	return c.async.DeleteAsync(ctx, c.Key(key))
}
