package x402

import (
	"time"

	"github.com/ledgerlens/x402/logger"
	"github.com/ledgerlens/x402/metrics"
	"github.com/ledgerlens/x402/store"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.log = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

// WithStore replaces the bundled in-memory store with a durable backend.
func WithStore(s store.Store) Option {
	return func(x *X402) {
		x.store = s
	}
}

// WithRPCTimeout bounds each chain RPC round trip.
func WithRPCTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

// WithRequestTTL overrides the payment window.
func WithRequestTTL(t time.Duration) Option {
	return func(x *X402) {
		x.requestTTL = t
	}
}

// WithRetention overrides how long terminal records are kept.
func WithRetention(t time.Duration) Option {
	return func(x *X402) {
		x.retention = t
	}
}

// WithClock overrides the time source everywhere. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(x *X402) {
		x.now = now
	}
}
