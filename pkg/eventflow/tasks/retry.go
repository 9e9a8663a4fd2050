package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
)

// CodeNotFailed marks records that left the EXCEPTION state before the
// retry reached them.
const CodeNotFailed = "NOT_FAILED"

// RetryFailed puts EXCEPTION envelopes with attempts left back on the
// queue. Processed items are remembered per trigger, keyed by envelope and
// attempt count, so a record is requeued at most once per failure.
type RetryFailed struct {
	store       checkpoint.Store
	maxAttempts int
}

// NewRetryFailed creates the executor. Records that already ran
// maxAttempts times are left alone; maxAttempts <= 0 retries every failure.
func NewRetryFailed(store checkpoint.Store, maxAttempts int) *RetryFailed {
	return &RetryFailed{store: store, maxAttempts: maxAttempts}
}

// TaskType implements task.Executor.
func (r *RetryFailed) TaskType() string { return TypeRetryFailed }

// Capabilities implements task.Executor. Requeued records leave the
// candidate set, so the executor drains.
func (r *RetryFailed) Capabilities() task.Capabilities {
	return task.Capabilities{Recoverable: true, Queue: true, DrainQueue: true, DryRun: true}
}

// ItemRef implements task.Executor.
func (r *RetryFailed) ItemRef(rec *checkpoint.Record) string {
	return fmt.Sprintf("%s#%d", rec.EnvelopeID, rec.Attempts)
}

func (r *RetryFailed) filter() checkpoint.Filter {
	return checkpoint.Filter{
		States:      []checkpoint.State{checkpoint.StateException},
		MaxAttempts: r.maxAttempts,
	}
}

// ItemsToProcess implements task.Executor.
func (r *RetryFailed) ItemsToProcess(ctx context.Context, req task.PageRequest) (task.Page[*checkpoint.Record], error) {
	return listRecords(ctx, r.store, r.filter(), req)
}

// ProcessItem implements task.Executor.
func (r *RetryFailed) ProcessItem(ctx context.Context, item *checkpoint.Record) (*operation.Result, error) {
	rec, err := r.store.Load(ctx, item.EnvelopeID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		res := operation.NotExecuted(CodeNotFailed)
		return &res, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.State != checkpoint.StateException {
		res := operation.NotExecuted(CodeNotFailed)
		return &res, nil
	}

	rec.State = checkpoint.StateQueued
	rec.Error = ""
	if err := r.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("requeue %s: %w", rec.EnvelopeID, err)
	}
	return nil, nil
}
