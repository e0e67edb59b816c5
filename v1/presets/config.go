package presets

import (
	"fmt"
	"os"
	"time"

	nats "github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/mirkobrombin/go-cachify/v1/core"
)

// Supported backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendRistretto = "ristretto"
	BackendNATS      = "nats"
)

// DefaultNATSBucket is used when nats.bucket is absent.
const DefaultNATSBucket = "cachify"

// Config is the file form of a Cachify configuration.
type Config struct {
	// Backend is one of: memory | redis | ristretto | nats.
	Backend string `yaml:"backend"`

	// Prefix is prepended to every key.
	Prefix string `yaml:"prefix"`

	// LockExpiration is the default lock TTL. Zero means locks never expire.
	LockExpiration time.Duration `yaml:"lock_expiration"`

	Redis RedisConfig `yaml:"redis"`
	NATS  NATSConfig  `yaml:"nats"`
}

// RedisConfig holds the redis backend settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// BreakerConfig enables a circuit breaker in front of the store.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures opening the circuit.
	// Zero disables the breaker.
	Threshold int `yaml:"threshold"`
	// Timeout is how long the circuit stays open before a trial call.
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig holds the nats backend settings.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config data. Missing fields get their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config for the in-memory backend.
func Defaults() *Config {
	return &Config{
		Backend:        BackendMemory,
		Prefix:         core.DefaultPrefix,
		LockExpiration: core.DefaultLockExpiration,
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Breaker: BreakerConfig{Timeout: 5 * time.Second},
		},
		NATS: NATSConfig{URL: nats.DefaultURL, Bucket: DefaultNATSBucket},
	}
}

func validate(cfg *Config) error {
	switch cfg.Backend {
	case BackendMemory, BackendRistretto:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
		if cfg.Redis.Timeout < 0 {
			return fmt.Errorf("redis.timeout must not be negative")
		}
		if cfg.Redis.Breaker.Threshold < 0 {
			return fmt.Errorf("redis.breaker.threshold must not be negative")
		}
	case BackendNATS:
		if cfg.NATS.URL == "" {
			return fmt.Errorf("nats.url is required")
		}
		if cfg.NATS.Bucket == "" {
			return fmt.Errorf("nats.bucket is required")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.LockExpiration < 0 {
		return fmt.Errorf("lock_expiration must not be negative")
	}
	return nil
}

// Build creates the Cachify described by cfg. The returned function releases
// the backend connections and must be called once the Cachify is no longer
// used.
func (cfg *Config) Build() (*core.Cachify, func(), error) {
	opts := []core.Option{
		core.WithPrefix(cfg.Prefix),
		core.WithLockExpiration(cfg.LockExpiration),
	}
	switch cfg.Backend {
	case BackendMemory:
		c, store := NewInMemoryStandalone(opts...)
		return c, store.Close, nil
	case BackendRistretto:
		c, store, err := NewRistretto(nil, opts...)
		if err != nil {
			return nil, nil, err
		}
		return c, store.Close, nil
	case BackendRedis:
		c, client := NewRedis(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,

			BreakerThreshold: cfg.Redis.Breaker.Threshold,
			BreakerTimeout:   cfg.Redis.Breaker.Timeout,
		}, opts...)
		return c, func() { _ = client.Close() }, nil
	case BackendNATS:
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("config: connect nats: %w", err)
		}
		c, err := NewNATS(nc, cfg.NATS.Bucket, opts...)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return c, nc.Close, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
}
