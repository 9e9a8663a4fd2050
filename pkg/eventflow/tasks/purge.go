package tasks

import (
	"context"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
)

// ParamOlderThan is the task parameter holding the purge retention age,
// in time.ParseDuration syntax.
const ParamOlderThan = "older_than"

// DefaultRetention is the purge age used when none is configured.
const DefaultRetention = 7 * 24 * time.Hour

// PurgeRecords deletes EXECUTED and CANCELED envelope records last updated
// before the retention age. Its ledger entries are kept per trigger for
// auditing, but every run must act on every matching record, so it bypasses
// the ledger lookup.
type PurgeRecords struct {
	store     checkpoint.Store
	olderThan time.Duration
	now       func() time.Time

	cutoff time.Time
}

// NewPurgeRecords creates the executor. The cutoff is fixed when the first
// page is requested.
func NewPurgeRecords(store checkpoint.Store, olderThan time.Duration) *PurgeRecords {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	return &PurgeRecords{store: store, olderThan: olderThan, now: time.Now}
}

// TaskType implements task.Executor.
func (p *PurgeRecords) TaskType() string { return TypePurgeRecords }

// Capabilities implements task.Executor.
func (p *PurgeRecords) Capabilities() task.Capabilities {
	return task.Capabilities{DrainQueue: true, Queue: true, DryRun: true}
}

// ItemRef implements task.Executor.
func (p *PurgeRecords) ItemRef(rec *checkpoint.Record) string { return rec.EnvelopeID }

// ItemsToProcess implements task.Executor.
func (p *PurgeRecords) ItemsToProcess(ctx context.Context, req task.PageRequest) (task.Page[*checkpoint.Record], error) {
	if p.cutoff.IsZero() {
		p.cutoff = p.now().Add(-p.olderThan)
	}
	return listRecords(ctx, p.store, checkpoint.Filter{
		States:        []checkpoint.State{checkpoint.StateExecuted, checkpoint.StateCanceled},
		UpdatedBefore: p.cutoff,
	}, req)
}

// ProcessItem implements task.Executor.
func (p *PurgeRecords) ProcessItem(ctx context.Context, rec *checkpoint.Record) (*operation.Result, error) {
	return nil, p.store.Delete(ctx, rec.EnvelopeID)
}

// IsInProcessedQueue implements task.ProcessedQueueChecker.
func (p *PurgeRecords) IsInProcessedQueue(context.Context, *checkpoint.Record) (bool, error) {
	return false, nil
}
