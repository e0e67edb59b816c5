package adapter

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
)

// RistrettoStore implements Store using dgraph-io/ristretto. It is a
// process-local store like InMemoryStore but bounded by cost. A write that
// ristretto drops or its admission policy rejects fails with
// errors.ErrWriteRejected. It has no atomic set-if-absent, so locks built on
// it rely on the check-then-set fallback.
type RistrettoStore struct {
	c *ristretto.Cache
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristretto.Config)

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) RistrettoOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

// NewRistrettoStore returns a Store backed by ristretto.
func NewRistrettoStore(opts ...RistrettoOption) (*RistrettoStore, error) {
	cfg := &ristretto.Config{
		NumCounters: 1e5,     // number of keys to track frequency of (100k).
		MaxCost:     1 << 26, // maximum cost of cache (64MB by default).
		BufferItems: 64,      // number of keys per Get buffer.
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{c: rc}, nil
}

// Get implements Store.Get.
func (r *RistrettoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, _ := v.([]byte)
	return append([]byte(nil), data...), true, nil
}

// Set implements Store.Set.
func (r *RistrettoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	data := append([]byte(nil), value...)
	if !r.c.SetWithTTL(key, data, int64(len(data))+1, ttl) {
		return cerrors.ErrWriteRejected
	}
	r.c.Wait()
	// admission runs in the background; read back to know if it kept the value
	if v, ok := r.c.Get(key); !ok || !bytes.Equal(v.([]byte), data) {
		return cerrors.ErrWriteRejected
	}
	return nil
}

// Delete implements Store.Delete.
func (r *RistrettoStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Del(key)
	r.c.Wait()
	return nil
}

// Close releases resources held by the store.
func (r *RistrettoStore) Close() {
	r.c.Close()
}
