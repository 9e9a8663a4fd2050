package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/eventflow/pkg/eventflow"
	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
)

// Task types.
const (
	TypeEnvelopeQueue = "envelope-queue"
	TypeRetryFailed   = "retry-failed"
	TypePurgeRecords  = "purge-records"
)

// Result codes reported by the built-in executors.
const (
	CodeAlreadyTaken = "ALREADY_TAKEN"
	CodeSuspended    = "SUSPENDED"
)

// QueuedExecutor runs one queued envelope. *eventflow.Dispatcher
// implements it.
type QueuedExecutor interface {
	ExecuteQueued(ctx context.Context, envelopeID string) (*event.Context, error)
}

// EnvelopeQueue drains QUEUED envelopes, highest priority first. It is the
// task counterpart of eventflow.Worker: progress is checkpointed and each
// envelope's outcome lands in the ledger.
type EnvelopeQueue struct {
	store    checkpoint.Store
	executor QueuedExecutor
}

// NewEnvelopeQueue creates the executor.
func NewEnvelopeQueue(store checkpoint.Store, executor QueuedExecutor) *EnvelopeQueue {
	return &EnvelopeQueue{store: store, executor: executor}
}

// TaskType implements task.Executor.
func (q *EnvelopeQueue) TaskType() string { return TypeEnvelopeQueue }

// Capabilities implements task.Executor.
func (q *EnvelopeQueue) Capabilities() task.Capabilities {
	return task.Capabilities{DrainQueue: true, Recoverable: true, DryRun: true}
}

// ItemRef implements task.Executor.
func (q *EnvelopeQueue) ItemRef(rec *checkpoint.Record) string { return rec.EnvelopeID }

// ItemsToProcess implements task.Executor.
func (q *EnvelopeQueue) ItemsToProcess(ctx context.Context, req task.PageRequest) (task.Page[*checkpoint.Record], error) {
	return listRecords(ctx, q.store, checkpoint.Filter{States: []checkpoint.State{checkpoint.StateQueued}}, req)
}

// ProcessItem implements task.Executor.
func (q *EnvelopeQueue) ProcessItem(ctx context.Context, rec *checkpoint.Record) (*operation.Result, error) {
	ec, err := q.executor.ExecuteQueued(ctx, rec.EnvelopeID)
	switch {
	case errors.Is(err, eventflow.ErrNotResumable):
		// Another runner or worker got there first.
		res := operation.NotExecuted(CodeAlreadyTaken)
		return &res, nil
	case err != nil:
		return nil, err
	case ec.IsSuspended():
		res := operation.Result{State: operation.StateBlocked, Code: CodeSuspended}
		return &res, nil
	}
	return nil, nil
}

func listRecords(ctx context.Context, store checkpoint.Store, filter checkpoint.Filter, req task.PageRequest) (task.Page[*checkpoint.Record], error) {
	total, err := store.Count(ctx, filter)
	if err != nil {
		return task.Page[*checkpoint.Record]{}, fmt.Errorf("count envelope records: %w", err)
	}
	filter.Limit = req.Size
	filter.Offset = req.Offset()
	recs, err := store.List(ctx, filter)
	if err != nil {
		return task.Page[*checkpoint.Record]{}, fmt.Errorf("list envelope records: %w", err)
	}
	return task.Page[*checkpoint.Record]{
		Items:  recs,
		Number: req.Number,
		Size:   req.Size,
		Total:  int64(total),
	}, nil
}
