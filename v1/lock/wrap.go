package lock

import (
	"context"
	"errors"

	"github.com/mirkobrombin/go-cachify/v1/async"
	"github.com/mirkobrombin/go-cachify/v1/core"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
	"github.com/mirkobrombin/go-cachify/v1/keys"
)

type onceConfig[R any] struct {
	raise    bool
	onLocked R
}

// OnceOption configures the behavior of Once and OnceAsync when the lock is
// already held.
type OnceOption[R any] func(*onceConfig[R])

// RaiseOnLocked makes a contended call return the *errors.LockHeldError.
func RaiseOnLocked[R any]() OnceOption[R] {
	return func(c *onceConfig[R]) {
		c.raise = true
	}
}

// ReturnOnLocked sets the value returned, with a nil error, by a contended
// call. The default is the zero value of R.
func ReturnOnLocked[R any](v R) OnceOption[R] {
	return func(c *onceConfig[R]) {
		c.onLocked = v
	}
}

func newOnce[R any](opts []OnceOption[R]) *onceConfig[R] {
	c := &onceConfig[R]{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// locked maps an acquisition failure to the result of the call.
func (c *onceConfig[R]) locked(err error) (R, error) {
	if c != nil && !c.raise && errors.Is(err, cerrors.ErrLockHeld) {
		return c.onLocked, nil
	}
	var zero R
	return zero, err
}

func lockFor(template string, opts []Option, args any) (*Lock, error) {
	k, err := keys.Build(template, args)
	if err != nil {
		return nil, err
	}
	return New(k, opts...), nil
}

// Func is a function guarded by a lock whose key is derived from each call's
// arguments.
type Func[A, R any] struct {
	key  string
	opts []Option
	fn   func(context.Context, A) (R, error)
	once *onceConfig[R]
}

// Wrap guards fn with the lock named by the key template. Each call resolves
// its own key from args (see keys.Build), holds the lock while fn runs and
// releases it afterwards, whether fn returns an error or panics.
func Wrap[A, R any](key string, fn func(context.Context, A) (R, error), opts ...Option) *Func[A, R] {
	return &Func[A, R]{key: key, opts: opts, fn: fn}
}

// Once guards fn so that at most one call per resolved key runs at a time.
// The lock is checked once, never polled; a contended call returns the
// ReturnOnLocked value, or the LockHeldError with RaiseOnLocked.
func Once[A, R any](key string, fn func(context.Context, A) (R, error), opts ...OnceOption[R]) *Func[A, R] {
	return &Func[A, R]{key: key, opts: []Option{Nowait(true)}, fn: fn, once: newOnce(opts)}
}

// Call runs the wrapped function under the lock.
func (f *Func[A, R]) Call(ctx context.Context, args A) (res R, err error) {
	c, err := core.FromContext(ctx)
	if err != nil {
		return res, err
	}
	l, err := lockFor(f.key, f.opts, args)
	if err != nil {
		return res, err
	}
	b := blocking{c}
	if err := l.acquire(ctx, c, b); err != nil {
		return f.once.locked(err)
	}
	defer func() {
		if rerr := b.del(context.WithoutCancel(ctx), l.key); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return f.fn(ctx, args)
}

// IsLocked reports whether the lock for args is currently held.
func (f *Func[A, R]) IsLocked(ctx context.Context, args A) (bool, error) {
	l, err := lockFor(f.key, f.opts, args)
	if err != nil {
		return false, err
	}
	return l.IsLocked(ctx)
}

// Release deletes the lock for args.
func (f *Func[A, R]) Release(ctx context.Context, args A) error {
	l, err := lockFor(f.key, f.opts, args)
	if err != nil {
		return err
	}
	return l.Release(ctx)
}

// AsyncFunc is the suspending counterpart of Func: the wrapped function
// returns a future and so does every method.
type AsyncFunc[A, R any] struct {
	key  string
	opts []Option
	fn   func(context.Context, A) *async.Future[R]
	once *onceConfig[R]
}

// WrapAsync is the suspending form of Wrap.
func WrapAsync[A, R any](key string, fn func(context.Context, A) *async.Future[R], opts ...Option) *AsyncFunc[A, R] {
	return &AsyncFunc[A, R]{key: key, opts: opts, fn: fn}
}

// OnceAsync is the suspending form of Once.
func OnceAsync[A, R any](key string, fn func(context.Context, A) *async.Future[R], opts ...OnceOption[R]) *AsyncFunc[A, R] {
	return &AsyncFunc[A, R]{key: key, opts: []Option{Nowait(true)}, fn: fn, once: newOnce(opts)}
}

// Call runs the wrapped function under the lock. Cancelling ctx does not
// release the lock while the wrapped function is still running; awaiting the
// returned future with a done context only stops the wait.
func (f *AsyncFunc[A, R]) Call(ctx context.Context, args A) *async.Future[R] {
	return async.Go(ctx, func(ctx context.Context) (res R, err error) {
		c, err := core.FromContext(ctx)
		if err != nil {
			return res, err
		}
		l, err := lockFor(f.key, f.opts, args)
		if err != nil {
			return res, err
		}
		b := suspending{c}
		if err := l.acquire(ctx, c, b); err != nil {
			return f.once.locked(err)
		}
		defer func() {
			if rerr := b.del(context.WithoutCancel(ctx), l.key); rerr != nil && err == nil {
				err = rerr
			}
		}()
		// the lock is released only once the body has returned, even if
		// ctx is done earlier
		return f.fn(ctx, args).Result()
	})
}

// IsLocked reports whether the lock for args is currently held.
func (f *AsyncFunc[A, R]) IsLocked(ctx context.Context, args A) *async.Future[bool] {
	l, err := lockFor(f.key, f.opts, args)
	if err != nil {
		return async.Resolved(false, err)
	}
	return l.IsLockedAsync(ctx)
}

// Release deletes the lock for args.
func (f *AsyncFunc[A, R]) Release(ctx context.Context, args A) *async.Future[struct{}] {
	l, err := lockFor(f.key, f.opts, args)
	if err != nil {
		return async.Resolved(struct{}{}, err)
	}
	return l.ReleaseAsync(ctx)
}
