package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying retries failed writes of the wrapped ledger with exponential
// backoff. Reads are passed through.
type Retrying struct {
	Ledger
	newBackOff func() backoff.BackOff
}

// RetryOption configures Retrying.
type RetryOption func(*Retrying)

// WithBackOff sets the backoff factory. BackOff values are stateful, so
// the factory must return a fresh instance per call.
func WithBackOff(factory func() backoff.BackOff) RetryOption {
	return func(r *Retrying) {
		r.newBackOff = factory
	}
}

// NewRetrying wraps l. By default a write is attempted up to four times
// within two seconds.
func NewRetrying(l Ledger, opts ...RetryOption) *Retrying {
	r := &Retrying{
		Ledger: l,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 20 * time.Millisecond
			bo.MaxElapsedTime = 2 * time.Second
			return backoff.WithMaxRetries(bo, 3)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record implements Ledger.
func (r *Retrying) Record(ctx context.Context, e Entry) error {
	return backoff.Retry(func() error {
		err := r.Ledger.Record(ctx, e)
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidEntry) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.newBackOff(), ctx))
}
