package task

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/randalmurphal/eventflow/pkg/eventflow/lock"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
	"golang.org/x/time/rate"
)

// DefaultPageSize is the page size requested from executors.
const DefaultPageSize = 100

type runnerOptions struct {
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	ledger     ledger.Ledger
	transactor Transactor
	pageSize   int
	limiter    *rate.Limiter
	now        func() time.Time
	locker     lock.Locker
	lockTTL    time.Duration
}

func defaultRunnerOptions() runnerOptions {
	return runnerOptions{
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
		transactor: NoopTransactor{},
		pageSize:   DefaultPageSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Option configures a Runner.
type Option func(*runnerOptions)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *runnerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records task run and item metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *runnerOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracing opens a span per task run and per item.
func WithTracing(s observability.SpanManager) Option {
	return func(o *runnerOptions) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithLedger sets the processed item ledger. Default: a MemoryLedger.
func WithLedger(l ledger.Ledger) Option {
	return func(o *runnerOptions) {
		o.ledger = l
	}
}

// WithTransactor sets the transaction boundary used for executors that
// require a new transaction per item. Default: NoopTransactor.
func WithTransactor(t Transactor) Option {
	return func(o *runnerOptions) {
		if t != nil {
			o.transactor = t
		}
	}
}

// WithPageSize sets the page size requested from executors.
func WithPageSize(n int) Option {
	return func(o *runnerOptions) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithRateLimit caps processed items per second across all runs of the
// runner. A non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *runnerOptions) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithClock overrides the time source for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *runnerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLocker additionally takes a lease per task type and trigger, so runs
// are exclusive across processes sharing the locker. A ttl <= 0 uses the
// locker's default.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(o *runnerOptions) {
		o.locker = l
		o.lockTTL = ttl
	}
}
