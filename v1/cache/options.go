package cache

import (
	"reflect"
	"time"
)

type config[R any] struct {
	ttl    time.Duration
	encode func(R) ([]byte, error)
	decode func([]byte) (R, error)
	custom bool
	// err is returned by every call when the result type cannot be cached
	err error
}

// Option configures a cached function returning R.
type Option[R any] func(*config[R])

func newConfig[R any](opts []Option[R]) config[R] {
	var c config[R]
	c.encode, c.decode = codecFuncs[R](JSONCodec{})
	for _, opt := range opts {
		opt(&c)
	}
	if !c.custom {
		c.err = jsonRoundTrips(reflect.TypeOf((*R)(nil)).Elem())
	}
	return c
}

// WithTTL sets how long a cached result lives. Zero or negative keeps it
// until Reset is called.
func WithTTL[R any](d time.Duration) Option[R] {
	return func(c *config[R]) {
		c.ttl = d
	}
}

// WithCodec selects the codec used to store results.
func WithCodec[R any](codec Codec) Option[R] {
	return func(c *config[R]) {
		if codec != nil {
			c.encode, c.decode = codecFuncs[R](codec)
			c.custom = true
		}
	}
}

// WithEncodeDecode replaces the codec with an explicit hook pair. enc runs
// once per miss on the function result and dec once per hit on the stored
// bytes. Their errors are returned to the caller unchanged.
func WithEncodeDecode[R any](enc func(R) ([]byte, error), dec func([]byte) (R, error)) Option[R] {
	return func(c *config[R]) {
		if enc != nil {
			c.encode = enc
			c.custom = true
		}
		if dec != nil {
			c.decode = dec
			c.custom = true
		}
	}
}
