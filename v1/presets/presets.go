// Package presets builds ready-to-use Cachify configurations for the
// supported backends, either directly or from a YAML file.
package presets

import (
	"time"

	"github.com/dgraph-io/ristretto"
	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-cachify/v1/adapter"
	"github.com/mirkobrombin/go-cachify/v1/core"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds every store call. Zero keeps the store's default of
	// five seconds per call.
	Timeout time.Duration
	// BreakerThreshold enables a circuit breaker opening after that many
	// consecutive store failures. Zero disables it.
	BreakerThreshold int
	// BreakerTimeout is how long an open breaker fails fast before letting a trial call through.
	BreakerTimeout time.Duration
}

// NewRedis creates a Cachify backed by Redis. Locks use SET NX, so they are
// exclusive across every process sharing the server. The returned client is
// owned by the caller.
func NewRedis(opts RedisOptions, coreOpts ...core.Option) (*core.Cachify, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	var storeOpts []adapter.RedisOption
	if opts.Timeout > 0 {
		storeOpts = append(storeOpts, adapter.WithTimeout(opts.Timeout))
	}
	var store adapter.Store = adapter.NewRedisStore(client, storeOpts...)
	if opts.BreakerThreshold > 0 {
		store = adapter.NewBreaker(store, opts.BreakerThreshold, opts.BreakerTimeout)
	}
	return core.New(store, nil, coreOpts...), client
}

// NewInMemoryStandalone creates a Cachify that runs entirely in-process with
// no external dependencies. Locks are only exclusive within the process.
func NewInMemoryStandalone(coreOpts ...core.Option) (*core.Cachify, *adapter.InMemoryStore) {
	store := adapter.NewInMemoryStore()
	return core.New(store, nil, coreOpts...), store
}

// NewRistretto creates a Cachify backed by a ristretto cache. Ristretto may
// drop entries under memory pressure and has no atomic add, so it suits
// caching better than locking.
func NewRistretto(cfg *ristretto.Config, coreOpts ...core.Option) (*core.Cachify, *adapter.RistrettoStore, error) {
	var storeOpts []adapter.RistrettoOption
	if cfg != nil {
		storeOpts = append(storeOpts, adapter.WithRistretto(cfg))
	}
	store, err := adapter.NewRistrettoStore(storeOpts...)
	if err != nil {
		return nil, nil, err
	}
	return core.New(store, nil, coreOpts...), store, nil
}

// NewNATS creates a Cachify backed by the JetStream key-value bucket, creating
// the bucket when it does not exist.
func NewNATS(nc *nats.Conn, bucket string, coreOpts ...core.Option) (*core.Cachify, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	store, err := adapter.OpenNATSStore(js, bucket)
	if err != nil {
		return nil, err
	}
	return core.New(store, nil, coreOpts...), nil
}
