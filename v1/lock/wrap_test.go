package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-cachify/v1/async"
	"github.com/mirkobrombin/go-cachify/v1/core"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
)

type argParams struct {
	Arg int `key:"arg"`
}

// concurrently runs the two calls at the same time and reports how many
// failed with a LockHeldError.
func concurrently(t *testing.T, a, b func() error) int {
	t.Helper()
	var held atomic.Int32
	var g errgroup.Group
	for _, call := range []func() error{a, b} {
		call := call
		g.Go(func() error {
			err := call()
			if errors.Is(err, cerrors.ErrLockHeld) {
				held.Add(1)
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return int(held.Load())
}

func TestWrapSerializesSameKey(t *testing.T) {
	setup(t)
	ctx := context.Background()
	f := Wrap("k-{arg}", func(ctx context.Context, p argParams) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return p.Arg, nil
	})
	call := func(arg int) func() error {
		return func() error {
			_, err := f.Call(ctx, argParams{Arg: arg})
			return err
		}
	}

	if held := concurrently(t, call(3), call(3)); held != 1 {
		t.Fatalf("expected exactly one LockHeldError for equal keys, got %d", held)
	}
	if held := concurrently(t, call(3), call(5)); held != 0 {
		t.Fatalf("expected no LockHeldError for distinct keys, got %d", held)
	}
}

func TestWrapReturnsResult(t *testing.T) {
	setup(t)
	ctx := context.Background()
	f := Wrap("sum-{0}-{1}", func(ctx context.Context, p []int) (int, error) {
		return p[0] + p[1], nil
	})
	got, err := f.Call(ctx, []int{3, 4})
	if err != nil || got != 7 {
		t.Fatalf("expected 7, got %d err %v", got, err)
	}
	if locked, _ := f.IsLocked(ctx, []int{3, 4}); locked {
		t.Fatal("expected lock released after call")
	}
}

func TestWrapReleasesOnErrorAndPanic(t *testing.T) {
	setup(t)
	ctx := context.Background()
	boom := errors.New("boom")
	f := Wrap("k-{arg}", func(ctx context.Context, p argParams) (int, error) {
		if p.Arg < 0 {
			panic("negative")
		}
		return 0, boom
	})

	if _, err := f.Call(ctx, argParams{Arg: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if locked, _ := f.IsLocked(ctx, argParams{Arg: 1}); locked {
		t.Fatal("expected lock released after error")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_, _ = f.Call(ctx, argParams{Arg: -1})
	}()
	if locked, _ := f.IsLocked(ctx, argParams{Arg: -1}); locked {
		t.Fatal("expected lock released after panic")
	}
}

func TestWrapAccessors(t *testing.T) {
	setup(t)
	ctx := context.Background()
	inside := make(chan struct{})
	done := make(chan struct{})
	f := Wrap("k-{arg}", func(ctx context.Context, p argParams) (int, error) {
		close(inside)
		<-done
		return 0, nil
	})
	go f.Call(ctx, argParams{Arg: 1})
	<-inside
	if locked, err := f.IsLocked(ctx, argParams{Arg: 1}); err != nil || !locked {
		t.Fatalf("expected locked while running, got %v err %v", locked, err)
	}
	if locked, _ := f.IsLocked(ctx, argParams{Arg: 2}); locked {
		t.Fatal("expected other key free")
	}
	if err := f.Release(ctx, argParams{Arg: 1}); err != nil {
		t.Fatalf("release: %v", err)
	}
	if locked, _ := f.IsLocked(ctx, argParams{Arg: 1}); locked {
		t.Fatal("expected forced release")
	}
	close(done)
}

func TestWrapKeyFormatError(t *testing.T) {
	setup(t)
	f := Wrap("k-{missing}", func(ctx context.Context, p argParams) (int, error) {
		t.Fatal("function must not run")
		return 0, nil
	})
	_, err := f.Call(context.Background(), argParams{Arg: 1})
	var kerr *cerrors.KeyFormatError
	if !errors.As(err, &kerr) || !errors.Is(err, cerrors.ErrKeyFormat) {
		t.Fatalf("expected KeyFormatError, got %v", err)
	}
}

func TestWrapWaitsWithTimeout(t *testing.T) {
	setup(t)
	ctx := context.Background()
	f := Wrap("k", func(ctx context.Context, _ struct{}) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	}, Nowait(false), WithTimeout(time.Second), WithPollInterval(20*time.Millisecond))
	call := func() error {
		_, err := f.Call(ctx, struct{}{})
		return err
	}
	if held := concurrently(t, call, call); held != 0 {
		t.Fatalf("expected both calls to run with a long timeout, got %d failures", held)
	}
}

func TestOnceReturnsSentinel(t *testing.T) {
	setup(t)
	ctx := context.Background()
	inside := make(chan struct{})
	done := make(chan struct{})
	f := Once("job-{0}", func(ctx context.Context, p []int) (string, error) {
		close(inside)
		<-done
		return "ran", nil
	}, ReturnOnLocked("skipped"))

	first := make(chan string, 1)
	go func() {
		v, _ := f.Call(ctx, []int{1})
		first <- v
	}()
	<-inside
	got, err := f.Call(ctx, []int{1})
	if err != nil || got != "skipped" {
		t.Fatalf("expected sentinel, got %q err %v", got, err)
	}
	close(done)
	if v := <-first; v != "ran" {
		t.Fatalf("expected first call result, got %q", v)
	}
}

func TestOnceDefaultSentinelIsZero(t *testing.T) {
	setup(t)
	ctx := context.Background()
	if err := New("job").Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	f := Once("job", func(ctx context.Context, _ struct{}) (int, error) { return 42, nil })
	got, err := f.Call(ctx, struct{}{})
	if err != nil || got != 0 {
		t.Fatalf("expected zero value, got %d err %v", got, err)
	}
}

func TestOnceRaise(t *testing.T) {
	setup(t)
	ctx := context.Background()
	if err := New("job").Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	f := Once("job", func(ctx context.Context, _ struct{}) (int, error) { return 42, nil }, RaiseOnLocked[int]())
	if _, err := f.Call(ctx, struct{}{}); !errors.Is(err, cerrors.ErrLockHeld) {
		t.Fatalf("expected LockHeldError, got %v", err)
	}
}

func TestOncePropagatesFunctionErrors(t *testing.T) {
	setup(t)
	boom := errors.New("boom")
	f := Once("job", func(ctx context.Context, _ struct{}) (int, error) { return 0, boom }, ReturnOnLocked(-1))
	if _, err := f.Call(context.Background(), struct{}{}); !errors.Is(err, boom) {
		t.Fatalf("expected function error to propagate, got %v", err)
	}
}

func TestOnceNotInitialized(t *testing.T) {
	core.Reset()
	f := Once("job", func(ctx context.Context, _ struct{}) (int, error) { return 1, nil }, ReturnOnLocked(-1))
	if _, err := f.Call(context.Background(), struct{}{}); !errors.Is(err, cerrors.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestWrapAsyncSerializesSameKey(t *testing.T) {
	setup(t)
	ctx := context.Background()
	f := WrapAsync("k-{arg}", func(ctx context.Context, p argParams) *async.Future[int] {
		return async.Go(ctx, func(context.Context) (int, error) {
			time.Sleep(200 * time.Millisecond)
			return p.Arg, nil
		})
	})
	call := func(arg int) func() error {
		return func() error {
			_, err := f.Call(ctx, argParams{Arg: arg}).Await(ctx)
			return err
		}
	}
	if held := concurrently(t, call(3), call(3)); held != 1 {
		t.Fatalf("expected exactly one LockHeldError for equal keys, got %d", held)
	}
	if held := concurrently(t, call(3), call(5)); held != 0 {
		t.Fatalf("expected no LockHeldError for distinct keys, got %d", held)
	}
	if locked, _ := f.IsLocked(ctx, argParams{Arg: 3}).Await(ctx); locked {
		t.Fatal("expected lock released")
	}
}

func TestOnceAsync(t *testing.T) {
	setup(t)
	ctx := context.Background()
	var runs atomic.Int32
	f := OnceAsync("job", func(ctx context.Context, _ struct{}) *async.Future[string] {
		return async.Go(ctx, func(context.Context) (string, error) {
			runs.Add(1)
			time.Sleep(100 * time.Millisecond)
			return "ran", nil
		})
	}, ReturnOnLocked("skipped"))

	a := f.Call(ctx, struct{}{})
	time.Sleep(20 * time.Millisecond)
	b := f.Call(ctx, struct{}{})
	if v, err := b.Await(ctx); err != nil || v != "skipped" {
		t.Fatalf("expected sentinel, got %q err %v", v, err)
	}
	if v, err := a.Await(ctx); err != nil || v != "ran" {
		t.Fatalf("expected ran, got %q err %v", v, err)
	}
	if runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", runs.Load())
	}

	raising := OnceAsync("job", func(ctx context.Context, _ struct{}) *async.Future[string] {
		return async.Resolved("ran", nil)
	}, RaiseOnLocked[string]())
	if err := New("job").Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := raising.Call(ctx, struct{}{}).Await(ctx); !errors.Is(err, cerrors.ErrLockHeld) {
		t.Fatalf("expected LockHeldError, got %v", err)
	}
	if _, err := raising.Release(ctx, struct{}{}).Await(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if v, err := raising.Call(ctx, struct{}{}).Await(ctx); err != nil || v != "ran" {
		t.Fatalf("expected ran after release, got %q err %v", v, err)
	}
}

func TestWrapAsyncCancelKeepsLockUntilBodyReturns(t *testing.T) {
	setup(t)
	var running, peak atomic.Int32
	f := WrapAsync("slow-{arg}", func(ctx context.Context, p argParams) *async.Future[int] {
		return async.Go(ctx, func(context.Context) (int, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			defer running.Add(-1)
			time.Sleep(300 * time.Millisecond)
			return p.Arg, nil
		})
	})
	bg := context.Background()
	args := argParams{Arg: 1}

	ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
	defer cancel()
	first := f.Call(ctx, args)
	if _, err := first.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the wait to give up with the context, got %v", err)
	}
	if locked, err := f.IsLocked(bg, args).Await(bg); err != nil || !locked {
		t.Fatalf("expected the lock held while the body runs, got %v err %v", locked, err)
	}
	if _, err := f.Call(bg, args).Await(bg); !errors.Is(err, cerrors.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld while the body runs, got %v", err)
	}

	if v, err := first.Result(); err != nil || v != 1 {
		t.Fatalf("expected the body result, got %d err %v", v, err)
	}
	if locked, _ := f.IsLocked(bg, args).Await(bg); locked {
		t.Fatal("expected lock released once the body returned")
	}
	if peak.Load() != 1 {
		t.Fatalf("expected at most one body running, got %d", peak.Load())
	}
}
