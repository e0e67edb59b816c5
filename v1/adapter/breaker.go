package adapter

import (
	"context"
	"sync"
	"time"

	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// BreakerStore decorates a Store with circuit breaker logic: after threshold
// consecutive failures every call fails fast with errors.ErrCircuitOpen until
// timeout has passed, then a single trial call decides whether to close again.
type BreakerStore struct {
	store     Store
	mu        sync.Mutex
	state     state
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
}

// NewBreaker returns store guarded by a circuit breaker. A non-positive
// threshold is treated as 1.
func NewBreaker(store Store, threshold int, timeout time.Duration) *BreakerStore {
	if threshold <= 0 {
		threshold = 1
	}
	return &BreakerStore{
		store:     store,
		threshold: threshold,
		timeout:   timeout,
		state:     stateClosed,
	}
}

// IsHealthy returns true if the circuit is closed or ready for a trial call.
func (b *BreakerStore) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateOpen {
		return time.Since(b.lastFail) > b.timeout
	}
	return true
}

// allow checks if a call should go through. It moves an open circuit to
// half-open once the timeout has passed; while half-open only the trial call runs.
func (b *BreakerStore) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.lastFail) > b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return false
}

func (b *BreakerStore) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}

func (b *BreakerStore) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFail = time.Now()
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		b.state = stateOpen
	}
}

func (b *BreakerStore) record(err error) error {
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// Get implements Store.Get.
func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !b.allow() {
		return nil, false, cerrors.ErrCircuitOpen
	}
	v, ok, err := b.store.Get(ctx, key)
	return v, ok, b.record(err)
}

// Set implements Store.Set.
func (b *BreakerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !b.allow() {
		return cerrors.ErrCircuitOpen
	}
	return b.record(b.store.Set(ctx, key, value, ttl))
}

// SetNX implements Adder, atomically when the wrapped store does.
func (b *BreakerStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if !b.allow() {
		return false, cerrors.ErrCircuitOpen
	}
	ok, err := SetNX(ctx, b.store, key, value, ttl)
	return ok, b.record(err)
}

// Delete implements Store.Delete.
func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	if !b.allow() {
		return cerrors.ErrCircuitOpen
	}
	return b.record(b.store.Delete(ctx, key))
}
