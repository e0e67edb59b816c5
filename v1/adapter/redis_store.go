package adapter

import (
	"context"
	stdErrors "errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisStore implements Store and Adder using a Redis backend. It accepts any
// redis.Cmdable, so single-node, cluster and ring clients can all be used.
type RedisStore struct {
	client  redis.Cmdable
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, timeout: o.timeout}
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapRedisErr(err)
	}
	return data, true, nil
}

// Set implements Store.Set.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(cctx, key, value, redisTTL(ttl)).Err(); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

// SetNX implements Adder.SetNX with a single SET NX command.
func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.SetNX(cctx, key, value, redisTTL(ttl)).Result()
	if err != nil {
		return false, mapRedisErr(err)
	}
	return ok, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, key).Err(); err != nil {
		return mapRedisErr(err)
	}
	return nil
}

// redisTTL maps a non-positive ttl to "keep forever". go-redis treats -1 as
// KEEPTTL, which must not leak through.
func redisTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return cerrors.ErrTimeout
		}
		return err
	}
	return nil
}

func mapRedisErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return cerrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return cerrors.ErrConnectionClosed
	}
	return err
}
