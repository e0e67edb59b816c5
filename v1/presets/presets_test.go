package presets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/test"
	nats "github.com/nats-io/nats.go"

	"github.com/mirkobrombin/go-cachify/v1/cache"
	"github.com/mirkobrombin/go-cachify/v1/core"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
	"github.com/mirkobrombin/go-cachify/v1/lock"
)

// exercise runs a cached call and a lock round trip against c.
func exercise(t *testing.T, c *core.Cachify) {
	t.Helper()
	ctx := core.NewContext(context.Background(), c)

	calls := 0
	f := cache.Wrap("double-{0}", func(ctx context.Context, args []int) (int, error) {
		calls++
		return args[0] * 2, nil
	})
	for i := 0; i < 2; i++ {
		v, err := f.Call(ctx, []int{21})
		if err != nil || v != 42 {
			t.Fatalf("expected 42, got %d err %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one invocation, got %d", calls)
	}

	l := lock.New("presets")
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lock.New("presets").Acquire(ctx); !errors.Is(err, cerrors.ErrLockHeld) {
		t.Fatalf("expected LockHeldError, got %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestNewInMemoryStandalone(t *testing.T) {
	c, store := NewInMemoryStandalone(core.WithPrefix("mem-"))
	defer store.Close()
	if c.Prefix() != "mem-" {
		t.Fatalf("expected prefix mem-, got %q", c.Prefix())
	}
	exercise(t, c)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c, client := NewRedis(RedisOptions{Addr: mr.Addr(), Timeout: time.Second})
	defer client.Close()
	exercise(t, c)
	if !mr.Exists(core.DefaultPrefix + "double-21") {
		t.Fatal("expected cached record in redis")
	}
}

func TestNewRistretto(t *testing.T) {
	c, store, err := NewRistretto(nil)
	if err != nil {
		t.Fatalf("NewRistretto: %v", err)
	}
	defer store.Close()
	exercise(t, c)
}

func runJetStream(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s.ClientURL()
}

func TestNewNATS(t *testing.T) {
	nc, err := nats.Connect(runJetStream(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	c, err := NewNATS(nc, "presets")
	if err != nil {
		t.Fatalf("NewNATS: %v", err)
	}
	exercise(t, c)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cachify.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.Prefix != core.DefaultPrefix || cfg.LockExpiration != core.DefaultLockExpiration {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.NATS.Bucket != DefaultNATSBucket {
		t.Fatalf("expected default bucket, got %q", cfg.NATS.Bucket)
	}
}

func TestLoadRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg, err := Load(writeConfig(t, `
backend: redis
prefix: app-
lock_expiration: 5s
redis:
  addr: `+mr.Addr()+`
  timeout: 250ms
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockExpiration != 5*time.Second || cfg.Redis.Timeout != 250*time.Millisecond {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	c, closeFn, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer closeFn()
	if c.Prefix() != "app-" || c.LockExpiration() != 5*time.Second {
		t.Fatalf("unexpected cachify: prefix %q expiration %v", c.Prefix(), c.LockExpiration())
	}

	ctx := core.NewContext(context.Background(), c)
	if err := lock.New("job").Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ttl := mr.TTL("app-job"); ttl != 5*time.Second {
		t.Fatalf("expected lock ttl 5s, got %v", ttl)
	}
}

func TestLoadNATS(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
backend: nats
lock_expiration: 0s
nats:
  url: `+runJetStream(t)+`
  bucket: from-file
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, closeFn, err := cfg.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer closeFn()
	if c.LockExpiration() != 0 {
		t.Fatalf("expected locks without expiration, got %v", c.LockExpiration())
	}
	exercise(t, c)
}

func TestBuildLocalBackends(t *testing.T) {
	for _, backend := range []string{BackendMemory, BackendRistretto} {
		t.Run(backend, func(t *testing.T) {
			cfg, err := Parse([]byte("backend: " + backend + "\n"))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			c, closeFn, err := cfg.Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			defer closeFn()
			exercise(t, c)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown backend", "backend: etcd\n", `unknown backend "etcd"`},
		{"redis without addr", "backend: redis\nredis:\n  addr: \"\"\n", "redis.addr is required"},
		{"nats without bucket", "backend: nats\nnats:\n  bucket: \"\"\n", "nats.bucket is required"},
		{"negative expiration", "lock_expiration: -1s\n", "lock_expiration must not be negative"},
		{"bad duration", "lock_expiration: soon\n", "parse yaml"},
		{"bad yaml", "backend: [\n", "parse yaml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestNewRedisBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	c, client := NewRedis(RedisOptions{Addr: mr.Addr(), BreakerThreshold: 2, BreakerTimeout: time.Minute})
	defer client.Close()
	ctx := core.NewContext(context.Background(), c)

	f := cache.Wrap("k", func(ctx context.Context, _ struct{}) (int, error) { return 1, nil })
	mr.SetError("ERR down")
	for i := 0; i < 2; i++ {
		if _, err := f.Call(ctx, struct{}{}); err == nil || errors.Is(err, cerrors.ErrCircuitOpen) {
			t.Fatalf("call %d: expected redis error, got %v", i, err)
		}
	}
	mr.SetError("")
	if _, err := f.Call(ctx, struct{}{}); !errors.Is(err, cerrors.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
