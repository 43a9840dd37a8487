// Package memory implements the domain stores in process memory. It is safe
// for concurrent use within one process and mirrors the etcd semantics,
// including store-enforced expiry of job records.
package memory

import "time"

// Option configures a memory store.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock overrides the clock used to evaluate expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
