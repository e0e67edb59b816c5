package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-cachify/v1/async"
	"github.com/mirkobrombin/go-cachify/v1/core"
	"github.com/mirkobrombin/go-cachify/v1/keys"
	"github.com/mirkobrombin/go-cachify/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-cachify/v1/cache")

// backend is the set of store operations a cached call needs.
type backend interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
}

type blocking struct{ c *core.Cachify }

func (b blocking) get(ctx context.Context, key string) ([]byte, bool, error) {
	return b.c.Get(ctx, key)
}

func (b blocking) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.c.Set(ctx, key, value, ttl)
}

func (b blocking) del(ctx context.Context, key string) error {
	return b.c.Delete(ctx, key)
}

type suspending struct{ c *core.Cachify }

func (s suspending) get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := s.c.GetAsync(ctx, key).Await(ctx)
	return item.Value, item.Found, err
}

func (s suspending) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.c.SetAsync(ctx, key, value, ttl).Await(ctx)
	return err
}

func (s suspending) del(ctx context.Context, key string) error {
	_, err := s.c.DeleteAsync(ctx, key).Await(ctx)
	return err
}

// lookup serves a call from b, invoking compute on a miss.
func lookup[R any](ctx context.Context, cfg *config[R], b backend, template, key string, compute func(context.Context) (R, error)) (res R, err error) {
	ctx, span := tracer.Start(ctx, "Cache.Call", trace.WithAttributes(
		attribute.String("cachify.cache.template", template),
		attribute.String("cachify.cache.key", key),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var zero R
	if cfg.err != nil {
		return zero, cfg.err
	}
	data, ok, err := b.get(ctx, key)
	if err != nil {
		return zero, err
	}
	if ok {
		metrics.CacheHitCounter.Inc()
		span.SetAttributes(attribute.Bool("cachify.cache.hit", true))
		return cfg.decode(data)
	}
	metrics.CacheMissCounter.Inc()
	span.SetAttributes(attribute.Bool("cachify.cache.hit", false))

	res, err = compute(ctx)
	if err != nil {
		return zero, err
	}
	data, err = cfg.encode(res)
	if err != nil {
		return zero, err
	}
	if err := b.set(ctx, key, data, cfg.ttl); err != nil {
		return zero, err
	}
	return res, nil
}

func reset(ctx context.Context, b backend, key string) error {
	if err := b.del(ctx, key); err != nil {
		return err
	}
	metrics.CacheResetCounter.Inc()
	return nil
}

// Func is a function whose results are cached under a key derived from each
// call's arguments.
type Func[A, R any] struct {
	key string
	fn  func(context.Context, A) (R, error)
	cfg config[R]
}

// Wrap caches fn under the key template. Results are encoded with JSONCodec
// unless WithCodec or WithEncodeDecode is used. With the default codec a
// result type JSON cannot restore unchanged, such as one holding an interface
// or an unexported field, makes every Call fail before fn runs. Errors
// returned by fn are not cached.
func Wrap[A, R any](key string, fn func(context.Context, A) (R, error), opts ...Option[R]) *Func[A, R] {
	return &Func[A, R]{key: key, fn: fn, cfg: newConfig(opts)}
}

// Call returns the cached result for args, computing and storing it on a
// miss.
func (f *Func[A, R]) Call(ctx context.Context, args A) (R, error) {
	var zero R
	c, err := core.FromContext(ctx)
	if err != nil {
		return zero, err
	}
	k, err := keys.Build(f.key, args)
	if err != nil {
		return zero, err
	}
	return lookup(ctx, &f.cfg, blocking{c}, f.key, k, func(ctx context.Context) (R, error) {
		return f.fn(ctx, args)
	})
}

// Reset removes the cached result for args so the next Call recomputes it.
func (f *Func[A, R]) Reset(ctx context.Context, args A) error {
	c, err := core.FromContext(ctx)
	if err != nil {
		return err
	}
	k, err := keys.Build(f.key, args)
	if err != nil {
		return err
	}
	return reset(ctx, blocking{c}, k)
}

// AsyncFunc is the suspending counterpart of Func.
type AsyncFunc[A, R any] struct {
	key string
	fn  func(context.Context, A) *async.Future[R]
	cfg config[R]
}

// WrapAsync is the suspending form of Wrap: fn returns a future and so do
// Call and Reset. Store access goes through the configured AsyncStore.
func WrapAsync[A, R any](key string, fn func(context.Context, A) *async.Future[R], opts ...Option[R]) *AsyncFunc[A, R] {
	return &AsyncFunc[A, R]{key: key, fn: fn, cfg: newConfig(opts)}
}

// Call returns a future of the cached result for args.
func (f *AsyncFunc[A, R]) Call(ctx context.Context, args A) *async.Future[R] {
	return async.Go(ctx, func(ctx context.Context) (R, error) {
		var zero R
		c, err := core.FromContext(ctx)
		if err != nil {
			return zero, err
		}
		k, err := keys.Build(f.key, args)
		if err != nil {
			return zero, err
		}
		return lookup(ctx, &f.cfg, suspending{c}, f.key, k, func(ctx context.Context) (R, error) {
			return f.fn(ctx, args).Await(ctx)
		})
	})
}

// Reset removes the cached result for args.
func (f *AsyncFunc[A, R]) Reset(ctx context.Context, args A) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		c, err := core.FromContext(ctx)
		if err != nil {
			return struct{}{}, err
		}
		k, err := keys.Build(f.key, args)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, reset(ctx, suspending{c}, k)
	})
}
