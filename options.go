package thumb

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Resolver.
type Option func(*options)

type options struct {
	log        zerolog.Logger
	metrics    *Metrics
	clock      func() time.Time
	policy     CropPolicy
	validation Validation
	fallback   *FallbackChain
	locker     Locker
	ttl        TTL
	lease      Lease
	silent     bool
}

func defaultOptions() options {
	return options{
		log:        zerolog.Nop(),
		clock:      time.Now,
		policy:     TopThird,
		validation: DefaultValidation(),
		ttl:        DefaultTTL(),
		lease:      DefaultLease(),
	}
}

// WithLogger sets the logger. Defaults to zerolog.Nop().
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithMetrics records resolution and generation metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock sets the clock used for cache expiry and date sharding.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithCropPolicy sets the policy used when smart crop is enabled.
// Defaults to TopThird.
func WithCropPolicy(p CropPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithValidation sets the source validation gates.
func WithValidation(v Validation) Option {
	return func(o *options) {
		o.validation = v
	}
}

// WithFallback sets the fallback chain used in silent mode.
// Defaults to generated placeholders.
func WithFallback(chain FallbackChain) Option {
	return func(o *options) {
		o.fallback = &chain
	}
}

// WithLocker enables the cross-process generation lease.
func WithLocker(l Locker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// WithTTL sets cache lifetimes. Zero fields keep their defaults.
func WithTTL(ttl TTL) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLease sets lease timings. Zero fields keep their defaults.
func WithLease(l Lease) Option {
	return func(o *options) {
		o.lease = l
	}
}

// WithSilentDefault makes Silent the mode for requests that leave it unset
// and whose preset does not opt in itself.
func WithSilentDefault(silent bool) Option {
	return func(o *options) {
		o.silent = silent
	}
}
