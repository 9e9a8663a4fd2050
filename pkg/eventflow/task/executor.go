package task

import (
	"context"
	"errors"

	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
)

// ErrSuspend may be returned by ProcessItem to pause the task. The item is
// neither counted nor recorded, and the task becomes SUSPENDED.
var ErrSuspend = errors.New("task suspended")

// PageRequest selects one page of items.
type PageRequest struct {
	Number int
	Size   int
}

// Offset returns the index of the first item of the page.
func (r PageRequest) Offset() int {
	return r.Number * r.Size
}

// Page is one page of items plus the size of the whole candidate set.
type Page[T any] struct {
	Items  []T
	Number int
	Size   int
	Total  int64
}

// HasNext reports whether items exist beyond this page.
func (p Page[T]) HasNext() bool {
	if p.Size <= 0 {
		return false
	}
	return int64(p.Number+1)*int64(p.Size) < p.Total
}

// PageOf cuts the requested page out of items.
func PageOf[T any](items []T, req PageRequest) Page[T] {
	page := Page[T]{Number: req.Number, Size: req.Size, Total: int64(len(items))}
	if req.Size <= 0 {
		page.Items = append([]T(nil), items...)
		return page
	}
	start := min(req.Offset(), len(items))
	end := min(start+req.Size, len(items))
	page.Items = append([]T(nil), items[start:end]...)
	return page
}

// Capabilities are flags consulted by the runner, never by the executor's
// own logic.
type Capabilities struct {
	// DryRun allows runs that only count items.
	DryRun bool `json:"dry_run"`
	// RequireNewTransaction processes every item in its own transaction.
	RequireNewTransaction bool `json:"require_new_transaction"`
	// Queue keys the ledger by type and trigger instead of task ID, so
	// processed items are remembered across runs of the same trigger.
	Queue bool `json:"queue"`
	// Recoverable lets Recover restart the task after a crash.
	Recoverable bool `json:"recoverable"`
	// DrainQueue makes the runner always request page 0.
	DrainQueue bool `json:"drain_queue"`
}

// Executor is a unit of paginated, checkpointed work over items of type T.
type Executor[T any] interface {
	// TaskType names the kind of work. Runs are serialized per type and
	// trigger.
	TaskType() string

	// ItemsToProcess returns one page of candidate items.
	ItemsToProcess(ctx context.Context, req PageRequest) (Page[T], error)

	// ProcessItem handles one item. A nil result means EXECUTED; an error
	// or panic is recorded as EXCEPTION and does not stop the task.
	ProcessItem(ctx context.Context, item T) (*operation.Result, error)

	// ItemRef identifies an item in the ledger.
	ItemRef(item T) string

	Capabilities() Capabilities
}

// ProcessedQueueChecker replaces the default ledger lookup. A recurring
// executor that must act on the same items every run returns false.
type ProcessedQueueChecker[T any] interface {
	IsInProcessedQueue(ctx context.Context, item T) (bool, error)
}

// Handle is an executor with its item type erased so one runner can drive
// executors of different item types. Create handles with Bind.
type Handle interface {
	TaskType() string
	Capabilities() Capabilities

	fetch(ctx context.Context, req PageRequest) (fetched, error)
	ref(item any) string
	process(ctx context.Context, item any) (*operation.Result, error)
	processed(ctx context.Context, item any, l ledger.Ledger, owner string) (bool, error)
}

type fetched struct {
	items   []any
	total   int64
	hasNext bool
}

// Factory rebuilds the handle of a stored task, for example after a
// restart.
type Factory func(t *Task) (Handle, error)

// Bind erases the item type of exec.
func Bind[T any](exec Executor[T]) Handle {
	return &bound[T]{exec: exec}
}

type bound[T any] struct {
	exec Executor[T]
}

func (b *bound[T]) TaskType() string           { return b.exec.TaskType() }
func (b *bound[T]) Capabilities() Capabilities { return b.exec.Capabilities() }

func (b *bound[T]) fetch(ctx context.Context, req PageRequest) (fetched, error) {
	page, err := b.exec.ItemsToProcess(ctx, req)
	if err != nil {
		return fetched{}, err
	}
	items := make([]any, len(page.Items))
	for i, it := range page.Items {
		items[i] = it
	}
	return fetched{items: items, total: page.Total, hasNext: page.HasNext()}, nil
}

func (b *bound[T]) ref(item any) string {
	return b.exec.ItemRef(item.(T))
}

func (b *bound[T]) process(ctx context.Context, item any) (*operation.Result, error) {
	return b.exec.ProcessItem(ctx, item.(T))
}

func (b *bound[T]) processed(ctx context.Context, item any, l ledger.Ledger, owner string) (bool, error) {
	v := item.(T)
	if c, ok := b.exec.(ProcessedQueueChecker[T]); ok {
		return c.IsInProcessedQueue(ctx, v)
	}
	if l == nil {
		return false, nil
	}
	return l.Contains(ctx, owner, b.exec.ItemRef(v))
}
