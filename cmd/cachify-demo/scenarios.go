package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-cachify/v1/async"
	"github.com/mirkobrombin/go-cachify/v1/cache"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
	"github.com/mirkobrombin/go-cachify/v1/lock"
)

type job struct {
	Arg int `key:"arg"`
}

func runScenarios(ctx context.Context, hold time.Duration) error {
	if err := lockScenario(ctx, hold); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if err := cacheScenario(ctx); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := onceScenario(ctx, hold); err != nil {
		return fmt.Errorf("once: %w", err)
	}
	return nil
}

// concurrently runs both calls at once and counts LockHeldErrors.
func concurrently(ctx context.Context, calls ...func(context.Context) error) (int, error) {
	var held atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, call := range calls {
		call := call
		g.Go(func() error {
			err := call(gctx)
			if errors.Is(err, cerrors.ErrLockHeld) {
				held.Add(1)
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	return int(held.Load()), err
}

func lockScenario(ctx context.Context, hold time.Duration) error {
	guarded := lock.Wrap("k-{arg}", func(ctx context.Context, j job) (int, error) {
		time.Sleep(hold)
		return j.Arg, nil
	})
	call := func(arg int) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := guarded.Call(ctx, job{Arg: arg})
			return err
		}
	}

	held, err := concurrently(ctx, call(3), call(3))
	if err != nil {
		return err
	}
	slog.Info("cachify: same key", "key", "k-3", "lock_held_errors", held)

	held, err = concurrently(ctx, call(3), call(5))
	if err != nil {
		return err
	}
	slog.Info("cachify: distinct keys", "keys", "k-3,k-5", "lock_held_errors", held)
	return nil
}

func cacheScenario(ctx context.Context) error {
	sum := cache.Wrap("k", func(ctx context.Context, args []int) (int, error) {
		return args[0] + args[1], nil
	})
	defer sum.Reset(context.WithoutCancel(ctx), nil)

	for _, args := range [][]int{{3, 4}, {10, 20}} {
		v, err := sum.Call(ctx, args)
		if err != nil {
			return err
		}
		slog.Info("cachify: cached call", "args", args, "result", v)
	}

	double := cache.WrapAsync("double-{0}", func(ctx context.Context, args []int) *async.Future[int] {
		return async.Go(ctx, func(context.Context) (int, error) { return args[0] * 2, nil })
	})
	defer double.Reset(context.WithoutCancel(ctx), []int{21})
	v, err := double.Call(ctx, []int{21}).Await(ctx)
	if err != nil {
		return err
	}
	slog.Info("cachify: async cached call", "args", []int{21}, "result", v)
	return nil
}

func onceScenario(ctx context.Context, hold time.Duration) error {
	report := lock.Once("report-{arg}", func(ctx context.Context, j job) (string, error) {
		time.Sleep(hold)
		return fmt.Sprintf("report %d", j.Arg), nil
	}, lock.ReturnOnLocked("skipped"))

	results := make([]string, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		i := i
		g.Go(func() error {
			v, err := report.Call(gctx, job{Arg: 1})
			results[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("cachify: run once", "results", results)
	return nil
}
