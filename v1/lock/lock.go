package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-cachify/v1/async"
	"github.com/mirkobrombin/go-cachify/v1/core"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
	"github.com/mirkobrombin/go-cachify/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-cachify/v1/lock")

const (
	// DefaultPollInterval is the wait between two checks of a held lock.
	DefaultPollInterval = 100 * time.Millisecond
	// contention is logged on the first poll and then every logEvery polls
	logEvery = 10
)

type expirationMode uint8

const (
	expirationDefault expirationMode = iota
	expirationNone
	expirationAfter
)

// Expiration is the TTL attached to a lock record when it is acquired.
// The zero value, DefaultExpiration, uses the Cachify lock expiration.
type Expiration struct {
	mode expirationMode
	d    time.Duration
}

// DefaultExpiration defers to core.Cachify.LockExpiration.
var DefaultExpiration = Expiration{}

// NoExpiration keeps the lock until it is released.
func NoExpiration() Expiration { return Expiration{mode: expirationNone} }

// ExpireAfter expires the lock d after acquisition. A non-positive d means
// no expiration.
func ExpireAfter(d time.Duration) Expiration {
	if d <= 0 {
		return NoExpiration()
	}
	return Expiration{mode: expirationAfter, d: d}
}

func (e Expiration) resolve(c *core.Cachify) time.Duration {
	switch e.mode {
	case expirationNone:
		return 0
	case expirationAfter:
		return e.d
	default:
		return c.LockExpiration()
	}
}

type options struct {
	nowait       bool
	timeout      time.Duration
	hasTimeout   bool
	expiration   Expiration
	pollInterval time.Duration
}

func newOptions(opts []Option) options {
	o := options{nowait: true, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Lock.
type Option func(*options)

// Nowait selects between a single immediate check (true, the default) and
// polling until the lock is free or the timeout elapses (false).
func Nowait(nowait bool) Option {
	return func(o *options) {
		o.nowait = nowait
	}
}

// WithTimeout bounds the time spent polling when Nowait(false) is used.
// Without it the wait is unbounded, limited only by the context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
		o.hasTimeout = true
	}
}

// WithExpiration sets the lock TTL.
func WithExpiration(e Expiration) Option {
	return func(o *options) {
		o.expiration = e
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// Lock is a handle on a named lock. Its key is the resolved key, without the
// store prefix. A Lock holds no state of its own: any handle with the same key
// observes and releases the same lock.
type Lock struct {
	key  string
	opts options
}

// New returns a handle on the lock named key.
func New(key string, opts ...Option) *Lock {
	return &Lock{key: key, opts: newOptions(opts)}
}

// Key returns the lock key.
func (l *Lock) Key() string { return l.key }

// backend is the set of store operations the protocol needs. The blocking
// and suspending implementations differ only in how they wait for the store.
type backend interface {
	setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	exists(ctx context.Context, key string) (bool, error)
	del(ctx context.Context, key string) error
}

type blocking struct{ c *core.Cachify }

func (b blocking) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return b.c.SetNX(ctx, key, value, ttl)
}

func (b blocking) exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.c.Get(ctx, key)
	return ok, err
}

func (b blocking) del(ctx context.Context, key string) error {
	return b.c.Delete(ctx, key)
}

type suspending struct{ c *core.Cachify }

func (s suspending) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.c.SetNXAsync(ctx, key, value, ttl).Await(ctx)
}

func (s suspending) exists(ctx context.Context, key string) (bool, error) {
	item, err := s.c.GetAsync(ctx, key).Await(ctx)
	return item.Found, err
}

func (s suspending) del(ctx context.Context, key string) error {
	_, err := s.c.DeleteAsync(ctx, key).Await(ctx)
	return err
}

// acquire runs the polling protocol: try to claim the key, and while it is
// held either give up (nowait or past the deadline) or wait one poll interval.
func (l *Lock) acquire(ctx context.Context, c *core.Cachify, b backend) (err error) {
	ctx, span := tracer.Start(ctx, "Lock.Acquire", trace.WithAttributes(
		attribute.String("cachify.lock.key", l.key),
		attribute.Bool("cachify.lock.nowait", l.opts.nowait),
	))
	start := time.Now()
	defer func() {
		metrics.LockWaitHistogram.Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var deadline time.Time
	if !l.opts.nowait && l.opts.hasTimeout {
		deadline = start.Add(l.opts.timeout)
	}
	ttl := l.opts.expiration.resolve(c)
	token := []byte(uuid.NewString())

	for polls := 0; ; polls++ {
		ok, err := b.setNX(ctx, l.key, token, ttl)
		if err != nil {
			return err
		}
		if ok {
			metrics.LockAcquiredCounter.Inc()
			span.SetAttributes(attribute.Int("cachify.lock.polls", polls+1))
			return nil
		}
		metrics.LockContendedCounter.Inc()
		if polls%logEvery == 0 {
			slog.Warn("cachify: lock is already held", "key", l.key, "polls", polls+1)
		}
		if l.opts.nowait || (!deadline.IsZero() && time.Now().After(deadline)) {
			metrics.LockFailedCounter.Inc()
			return &cerrors.LockHeldError{Key: l.key}
		}
		timer := time.NewTimer(l.opts.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Acquire obtains the lock, blocking while polling. It returns a
// *errors.LockHeldError when the lock stays held.
func (l *Lock) Acquire(ctx context.Context) error {
	c, err := core.FromContext(ctx)
	if err != nil {
		return err
	}
	return l.acquire(ctx, c, blocking{c})
}

// Release deletes the lock key, whoever holds it.
func (l *Lock) Release(ctx context.Context) error {
	c, err := core.FromContext(ctx)
	if err != nil {
		return err
	}
	return blocking{c}.del(ctx, l.key)
}

// IsLocked reports whether the lock key currently exists.
func (l *Lock) IsLocked(ctx context.Context) (bool, error) {
	c, err := core.FromContext(ctx)
	if err != nil {
		return false, err
	}
	return blocking{c}.exists(ctx, l.key)
}

// Do runs fn while holding the lock. The lock is released on every exit
// path, including a panic in fn, using a context that is not cancelled with
// ctx.
func (l *Lock) Do(ctx context.Context, fn func(context.Context) error) (err error) {
	c, err := core.FromContext(ctx)
	if err != nil {
		return err
	}
	return run(ctx, l, c, blocking{c}, fn)
}

// AcquireAsync is the suspending form of Acquire. If ctx is cancelled after
// the lock was claimed but before the caller observed it, the lock stays held
// until it expires.
func (l *Lock) AcquireAsync(ctx context.Context) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		c, err := core.FromContext(ctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, l.acquire(ctx, c, suspending{c})
	})
}

// ReleaseAsync is the suspending form of Release.
func (l *Lock) ReleaseAsync(ctx context.Context) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		c, err := core.FromContext(ctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, suspending{c}.del(ctx, l.key)
	})
}

// IsLockedAsync is the suspending form of IsLocked.
func (l *Lock) IsLockedAsync(ctx context.Context) *async.Future[bool] {
	return async.Go(ctx, func(ctx context.Context) (bool, error) {
		c, err := core.FromContext(ctx)
		if err != nil {
			return false, err
		}
		return suspending{c}.exists(ctx, l.key)
	})
}

// DoAsync is the suspending form of Do.
func (l *Lock) DoAsync(ctx context.Context, fn func(context.Context) error) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		c, err := core.FromContext(ctx)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, run(ctx, l, c, suspending{c}, fn)
	})
}

// run acquires l through b, runs fn and releases on the way out.
func run(ctx context.Context, l *Lock, c *core.Cachify, b backend, fn func(context.Context) error) (err error) {
	if err := l.acquire(ctx, c, b); err != nil {
		return err
	}
	defer func() {
		if rerr := b.del(context.WithoutCancel(ctx), l.key); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}
