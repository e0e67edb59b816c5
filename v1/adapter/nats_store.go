package adapter

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	stdErrors "errors"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"
)

const natsEnvelopeHeader = 8

// NATSStore implements Store and Adder on top of a NATS JetStream key-value
// bucket.
//
// JetStream KV only supports a bucket-wide TTL, so every value is wrapped in
// an envelope carrying its own expiry (unix nanoseconds, zero for none) and
// expired entries are treated as absent and purged on access. Keys are
// base64url encoded because the KV key alphabet is restricted.
type NATSStore struct {
	kv nats.KeyValue
}

// NewNATSStore returns a store using an existing key-value bucket.
func NewNATSStore(kv nats.KeyValue) *NATSStore {
	return &NATSStore{kv: kv}
}

// OpenNATSStore binds to bucket, creating it when it does not exist.
func OpenNATSStore(js nats.JetStreamContext, bucket string) (*NATSStore, error) {
	kv, err := js.KeyValue(bucket)
	if stdErrors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, err
	}
	return NewNATSStore(kv), nil
}

// Get implements Store.Get.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	k := natsKey(key)
	e, err := s.kv.Get(k)
	if stdErrors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, expiresAt, err := openEnvelope(e.Value())
	if err != nil {
		return nil, false, fmt.Errorf("nats store %q: %w", key, err)
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		// purge only the revision we saw expire
		_ = s.kv.Delete(k, nats.LastRevision(e.Revision()))
		return nil, false, nil
	}
	return value, true, nil
}

// Set implements Store.Set.
func (s *NATSStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.kv.Put(natsKey(key), sealEnvelope(value, ttl))
	return err
}

// SetNX implements Adder.SetNX. Absent keys are claimed with Create; an
// expired entry is replaced with an Update conditioned on the revision that
// was observed, so only one contender can win it. Losing either race reports
// false; any other JetStream error is returned.
func (s *NATSStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := natsKey(key)
	data := sealEnvelope(value, ttl)
	_, err := s.kv.Create(k, data)
	if err == nil {
		return true, nil
	}
	if !stdErrors.Is(err, nats.ErrKeyExists) {
		return false, err
	}
	e, err := s.kv.Get(k)
	if stdErrors.Is(err, nats.ErrKeyNotFound) {
		// deleted between Create and Get; let the caller poll again
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, expiresAt, err := openEnvelope(e.Value())
	if err == nil && (expiresAt.IsZero() || !time.Now().After(expiresAt)) {
		return false, nil
	}
	if _, err := s.kv.Update(k, data, e.Revision()); err != nil {
		// another contender replaced the expired entry first
		if stdErrors.Is(err, nats.ErrKeyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete implements Store.Delete.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.kv.Delete(natsKey(key))
	if stdErrors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func natsKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func sealEnvelope(value []byte, ttl time.Duration) []byte {
	buf := make([]byte, natsEnvelopeHeader+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf, uint64(time.Now().Add(ttl).UnixNano()))
	}
	copy(buf[natsEnvelopeHeader:], value)
	return buf
}

func openEnvelope(data []byte) ([]byte, time.Time, error) {
	if len(data) < natsEnvelopeHeader {
		return nil, time.Time{}, stdErrors.New("truncated value envelope")
	}
	var expiresAt time.Time
	if ns := binary.BigEndian.Uint64(data); ns != 0 {
		expiresAt = time.Unix(0, int64(ns))
	}
	return data[natsEnvelopeHeader:], expiresAt, nil
}
