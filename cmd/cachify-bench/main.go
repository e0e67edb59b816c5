package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-cachify/v1/cache"
	"github.com/mirkobrombin/go-cachify/v1/core"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
	"github.com/mirkobrombin/go-cachify/v1/lock"
	"github.com/mirkobrombin/go-cachify/v1/presets"
)

var (
	concurrency = flag.Int("c", 50, "Number of concurrent clients")
	requests    = flag.Int("n", 100000, "Total number of requests")
	dataSize    = flag.Int("d", 256, "Data size in bytes")
	configPath  = flag.String("config", "", "Path to a YAML configuration file (in-memory backend when empty)")
	mode        = flag.String("mode", "cache", "cache or lock")
)

// validateFlags rejects worker and request counts the run cannot split.
func validateFlags(concurrency, requests, dataSize int) error {
	switch {
	case concurrency <= 0:
		return fmt.Errorf("-c must be positive, got %d", concurrency)
	case requests < concurrency:
		return fmt.Errorf("-n must be at least -c (%d), got %d", concurrency, requests)
	case dataSize < 0:
		return fmt.Errorf("-d must not be negative, got %d", dataSize)
	}
	return nil
}

type benchArgs struct {
	ID int `key:"id"`
}

func main() {
	flag.Parse()
	if err := validateFlags(*concurrency, *requests, *dataSize); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	cfg := presets.Defaults()
	if *configPath != "" {
		var err error
		if cfg, err = presets.Load(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	c, closeFn, err := cfg.Build()
	if err != nil {
		log.Fatalf("failed to build %s backend: %v", cfg.Backend, err)
	}
	defer closeFn()
	ctx := core.NewContext(context.Background(), c)

	log.Printf("Starting %s benchmark on %s: %d requests, %d concurrency, %d bytes payload",
		*mode, cfg.Backend, *requests, *concurrency, *dataSize)

	val := make([]byte, *dataSize)
	for i := range val {
		val[i] = 'x'
	}

	var op func(worker int) error
	switch *mode {
	case "cache":
		f := cache.Wrap("bench-{id}", func(ctx context.Context, _ benchArgs) ([]byte, error) {
			return val, nil
		}, cache.WithCodec[[]byte](cache.ByteCodec{}))
		defer f.Reset(ctx, benchArgs{})
		op = func(int) error {
			_, err := f.Call(ctx, benchArgs{})
			return err
		}
	case "lock":
		f := lock.Wrap("bench-lock-{id}", func(ctx context.Context, _ benchArgs) (struct{}, error) {
			return struct{}{}, nil
		})
		op = func(worker int) error {
			_, err := f.Call(ctx, benchArgs{ID: worker})
			return err
		}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	var wg sync.WaitGroup
	var ops, errorsCount, contended int64

	start := time.Now()
	reqsPerWorker := *requests / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < reqsPerWorker; j++ {
				err := op(worker)
				switch {
				case errors.Is(err, cerrors.ErrLockHeld):
					atomic.AddInt64(&contended, 1)
				case err != nil:
					atomic.AddInt64(&errorsCount, 1)
				}
				atomic.AddInt64(&ops, 1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	throughput := float64(ops) / elapsed.Seconds()
	avgLatency := elapsed.Seconds() / float64(ops) * 1e9 // ns

	log.Printf("Finished in %v", elapsed)
	log.Printf("Throughput: %.2f req/s", throughput)
	log.Printf("Avg Latency: %.2f ns", avgLatency)
	if contended > 0 {
		log.Printf("Contended: %d", contended)
	}
	if errorsCount > 0 {
		log.Printf("Errors: %d", errorsCount)
	}
}
