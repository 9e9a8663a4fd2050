package eventflow

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/lock"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
)

// options is shared by Chain, Dispatcher and Worker. Each reads the fields
// it needs; a Dispatcher starts from its chain's options.
type options struct {
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	store      checkpoint.Store
	kinds      *event.KindRegistry
	authorizer Authorizer
	locker     lock.Locker
	lockTTL    time.Duration
	async      bool
	newBackOff func() backoff.BackOff
}

func defaultOptions() options {
	return options{
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
		kinds:      event.DefaultKinds,
		async:      true,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = time.Second
	return backoff.WithMaxRetries(bo, 3)
}

// Option configures a Chain, Dispatcher or Worker.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records processor, chain and dispatch metrics.
//
// Example:
//
//	chain := eventflow.NewChain(reg, eventflow.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracing creates a span per chain run and a child span per processor.
func WithTracing(spans observability.SpanManager) Option {
	return func(o *options) {
		if spans != nil {
			o.spans = spans
		}
	}
}

// WithContinuationStore persists suspended and deferred envelopes.
// Without a store, suspension is not durable and the dispatcher runs every
// envelope synchronously.
func WithContinuationStore(store checkpoint.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithKinds sets the registry used to decode stored envelope content.
// Default: event.DefaultKinds.
func WithKinds(kinds *event.KindRegistry) Option {
	return func(o *options) {
		if kinds != nil {
			o.kinds = kinds
		}
	}
}

// WithAuthorizer evaluates envelope permissions on the synchronous path.
// Without one, permissions are not checked.
func WithAuthorizer(a Authorizer) Option {
	return func(o *options) {
		o.authorizer = a
	}
}

// WithLocker enables the explicit lock named by the envelope's
// event.PropertyLockKey property when executing queued envelopes.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = l
		o.lockTTL = ttl
	}
}

// WithAsync enables or disables deferred dispatch. Default: true.
func WithAsync(enabled bool) Option {
	return func(o *options) {
		o.async = enabled
	}
}

// WithRetryBackoff sets the backoff used for continuation store writes.
// The factory must return a fresh BackOff per call.
func WithRetryBackoff(factory func() backoff.BackOff) Option {
	return func(o *options) {
		if factory != nil {
			o.newBackOff = factory
		}
	}
}
