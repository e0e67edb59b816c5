package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheHitCounter tracks wrapped calls served from the store.
	CacheHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachify_cache_hits_total",
		Help: "Total number of cached calls served without invoking the wrapped function",
	})
	// CacheMissCounter tracks wrapped calls that invoked the wrapped function.
	CacheMissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachify_cache_misses_total",
		Help: "Total number of cached calls that invoked the wrapped function",
	})
	// CacheResetCounter tracks explicit cache resets.
	CacheResetCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachify_cache_resets_total",
		Help: "Total number of cache resets",
	})
	// LockAcquiredCounter tracks successful lock acquisitions.
	LockAcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachify_lock_acquired_total",
		Help: "Total number of lock acquisitions",
	})
	// LockContendedCounter tracks polls that found the lock held.
	LockContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachify_lock_contended_total",
		Help: "Total number of lock polls that found the lock held",
	})
	// LockFailedCounter tracks acquisitions that gave up with a held lock.
	LockFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachify_lock_failed_total",
		Help: "Total number of lock acquisitions that failed because the lock was held",
	})
	// LockWaitHistogram observes the time spent acquiring locks.
	LockWaitHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cachify_lock_wait_seconds",
		Help:    "Time spent waiting for a lock, successful or not",
		Buckets: prometheus.DefBuckets,
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers cachify metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		CacheHitCounter,
		CacheMissCounter,
		CacheResetCounter,
		LockAcquiredCounter,
		LockContendedCounter,
		LockFailedCounter,
		LockWaitHistogram,
	)
}
