package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLedger fails the first n writes.
type flakyLedger struct {
	*ledger.MemoryLedger
	failures int
	attempts int
	err      error
}

func (f *flakyLedger) Record(ctx context.Context, e ledger.Entry) error {
	f.attempts++
	if f.attempts <= f.failures {
		return f.err
	}
	return f.MemoryLedger.Record(ctx, e)
}

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	flaky := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger(), failures: 2, err: errors.New("timeout")}
	l := ledger.NewRetrying(flaky, ledger.WithBackOff(fastBackOff))

	require.NoError(t, l.Record(context.Background(), entry("t", "i", operation.StateExecuted)))
	assert.Equal(t, 3, flaky.attempts)

	ok, err := l.Contains(context.Background(), "t", "i")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetrying_GivesUp(t *testing.T) {
	flaky := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger(), failures: 10, err: errors.New("timeout")}
	l := ledger.NewRetrying(flaky, ledger.WithBackOff(fastBackOff))

	err := l.Record(context.Background(), entry("t", "i", operation.StateExecuted))
	assert.ErrorContains(t, err, "timeout")
	assert.Equal(t, 4, flaky.attempts)
}

func TestRetrying_PermanentErrors(t *testing.T) {
	flaky := &flakyLedger{MemoryLedger: ledger.NewMemoryLedger(), failures: 10, err: ledger.ErrClosed}
	l := ledger.NewRetrying(flaky, ledger.WithBackOff(fastBackOff))

	err := l.Record(context.Background(), entry("t", "i", operation.StateExecuted))
	assert.ErrorIs(t, err, ledger.ErrClosed)
	assert.Equal(t, 1, flaky.attempts)
}
