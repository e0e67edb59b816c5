package adapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-cachify/v1/adapter")

// InMemoryStore is a process-local Store with TTL support. Expired entries
// are purged lazily on access and, when enabled, by a background sweeper.
type InMemoryStore struct {
	mu            sync.RWMutex
	items         map[string]entry
	hits          atomic.Uint64
	misses        atomic.Uint64
	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	hitCounter     prometheus.Counter
	missCounter    prometheus.Counter
	expiredCounter prometheus.Counter
	latencyHist    prometheus.Histogram
	traceEnabled   bool
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithSweepInterval sets the interval at which expired entries are removed.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval(d time.Duration) InMemoryOption {
	return func(s *InMemoryStore) {
		s.sweepInterval = d
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) InMemoryOption {
	return func(s *InMemoryStore) {
		s.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachify_store_hits_total",
			Help: "Total number of in-memory store lookups that found a live entry",
		})
		s.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachify_store_misses_total",
			Help: "Total number of in-memory store lookups that found nothing",
		})
		s.expiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachify_store_expired_total",
			Help: "Total number of expired entries purged from the in-memory store",
		})
		s.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cachify_store_latency_seconds",
			Help:    "Latency of in-memory store operations",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(s.hitCounter, s.missCounter, s.expiredCounter, s.latencyHist)
	}
}

// WithTracing enables OpenTelemetry tracing for store operations.
func WithTracing() InMemoryOption {
	return func(s *InMemoryStore) {
		s.traceEnabled = true
	}
}

// defaultSweepInterval is the default period for removing expired entries.
const defaultSweepInterval = time.Minute

// NewInMemoryStore returns a new InMemoryStore. The sweeper runs every
// minute unless configured otherwise with WithSweepInterval.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &InMemoryStore{
		items:         make(map[string]entry),
		sweepInterval: defaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweeper()
	}
	return s
}

// observe starts the optional span and latency measurement of an operation.
// The returned function must be called when the operation ends.
func (s *InMemoryStore) observe(ctx context.Context, op string) (context.Context, trace.Span, func()) {
	if !s.traceEnabled && s.latencyHist == nil {
		return ctx, nil, func() {}
	}
	var span trace.Span
	if s.traceEnabled {
		ctx, span = tracer.Start(ctx, op)
	}
	start := time.Now()
	return ctx, span, func() {
		latency := time.Since(start)
		if span != nil {
			span.SetAttributes(attribute.Int64("cachify.store.latency_ms", latency.Milliseconds()))
			span.End()
		}
		if s.latencyHist != nil {
			s.latencyHist.Observe(latency.Seconds())
		}
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span, done := s.observe(ctx, "InMemoryStore.Get")
	defer done()
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	e, ok := s.items[key]
	if ok && e.expired(time.Now()) {
		delete(s.items, key)
		if s.expiredCounter != nil {
			s.expiredCounter.Inc()
		}
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		s.misses.Add(1)
		if s.missCounter != nil {
			s.missCounter.Inc()
		}
		if span != nil {
			span.SetAttributes(attribute.String("cachify.store.result", "miss"))
		}
		return nil, false, nil
	}
	s.hits.Add(1)
	if s.hitCounter != nil {
		s.hitCounter.Inc()
	}
	if span != nil {
		span.SetAttributes(attribute.String("cachify.store.result", "hit"))
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, _, done := s.observe(ctx, "InMemoryStore.Set")
	defer done()
	if err := ctx.Err(); err != nil {
		return err
	}
	e := newEntry(value, ttl)
	s.mu.Lock()
	s.items[key] = e
	s.mu.Unlock()
	return nil
}

// SetNX implements Adder.SetNX. Expired entries count as absent.
func (s *InMemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, _, done := s.observe(ctx, "InMemoryStore.SetNX")
	defer done()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	s.items[key] = newEntry(value, ttl)
	return true, nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	ctx, _, done := s.observe(ctx, "InMemoryStore.Delete")
	defer done()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

func newEntry(value []byte, ttl time.Duration) entry {
	// copy so callers can reuse their buffer
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}

// sweeper periodically removes expired entries, sampling a bounded number of
// keys per pass and repeating while the expired ratio stays high so the map
// is never locked for long.
func (s *InMemoryStore) sweeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	const (
		sampleSize    = 20
		evictionRatio = 0.25
	)

	for {
		select {
		case <-ticker.C:
			for {
				expiredCount := 0
				checkedCount := 0
				now := time.Now()

				s.mu.Lock()
				for k, e := range s.items {
					checkedCount++
					if e.expired(now) {
						delete(s.items, k)
						if s.expiredCounter != nil {
							s.expiredCounter.Inc()
						}
						expiredCount++
					}
					if checkedCount >= sampleSize {
						break
					}
				}
				s.mu.Unlock()

				if float64(expiredCount) < float64(sampleSize)*evictionRatio {
					break
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Close stops the sweeper and drops every entry.
func (s *InMemoryStore) Close() {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	s.items = make(map[string]entry)
	s.mu.Unlock()
}

// Stats reports basic metrics about store usage.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Metrics returns current metrics for the store.
func (s *InMemoryStore) Metrics() Stats {
	s.mu.RLock()
	size := len(s.items)
	s.mu.RUnlock()
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Size:   size,
	}
}
