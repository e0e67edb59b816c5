package adapter_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mirkobrombin/go-cachify/v1/adapter"
	cerrors "github.com/mirkobrombin/go-cachify/v1/errors"
)

// flakyStore fails every call while down is set.
type flakyStore struct {
	adapter.Store
	down  atomic.Bool
	calls atomic.Int32
}

var errDown = errors.New("store down")

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, false, errDown
	}
	return f.Store.Get(ctx, key)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	flaky := &flakyStore{Store: newInMemory(t)}
	b := adapter.NewBreaker(flaky, 2, 50*time.Millisecond)
	ctx := context.Background()

	flaky.down.Store(true)
	for i := 0; i < 2; i++ {
		if _, _, err := b.Get(ctx, "k"); !errors.Is(err, errDown) {
			t.Fatalf("call %d: expected store error, got %v", i, err)
		}
	}
	if b.IsHealthy() {
		t.Fatal("expected open circuit")
	}
	if _, _, err := b.Get(ctx, "k"); !errors.Is(err, cerrors.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if flaky.calls.Load() != 2 {
		t.Fatalf("expected open circuit to skip the store, got %d calls", flaky.calls.Load())
	}

	// a failed trial call reopens the circuit
	time.Sleep(60 * time.Millisecond)
	if _, _, err := b.Get(ctx, "k"); !errors.Is(err, errDown) {
		t.Fatalf("expected the trial call to reach the store, got %v", err)
	}
	if _, _, err := b.Get(ctx, "k"); !errors.Is(err, cerrors.ErrCircuitOpen) {
		t.Fatalf("expected circuit reopened after a failed trial call, got %v", err)
	}

	// a successful trial call closes it
	flaky.down.Store(false)
	time.Sleep(60 * time.Millisecond)
	if _, ok, err := b.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected trial call success, got ok=%v err=%v", ok, err)
	}
	if !b.IsHealthy() {
		t.Fatal("expected closed circuit")
	}
}

func TestBreakerResetsFailuresOnSuccess(t *testing.T) {
	flaky := &flakyStore{Store: newInMemory(t)}
	b := adapter.NewBreaker(flaky, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		flaky.down.Store(i%2 == 0)
		_, _, _ = b.Get(ctx, "k")
	}
	if !b.IsHealthy() {
		t.Fatal("expected alternating failures to keep the circuit closed")
	}
}

func TestBreakerSetNXIsAtomicOverAdder(t *testing.T) {
	b := adapter.NewBreaker(newInMemory(t), 1, time.Minute)
	ctx := context.Background()
	ok, err := b.SetNX(ctx, "k", []byte("a"), 0)
	if err != nil || !ok {
		t.Fatalf("expected first SetNX to win, got %v err %v", ok, err)
	}
	ok, err = b.SetNX(ctx, "k", []byte("b"), 0)
	if err != nil || ok {
		t.Fatalf("expected second SetNX to lose, got %v err %v", ok, err)
	}
}
