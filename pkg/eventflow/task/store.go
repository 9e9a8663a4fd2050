package task

import (
	"context"
	"slices"
)

// Filter selects tasks for List.
type Filter struct {
	Type    string
	Trigger string
	States  []State
	Limit   int
}

func (f Filter) matches(t *Task) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Trigger != "" && t.Trigger != f.Trigger {
		return false
	}
	if len(f.States) > 0 && !slices.Contains(f.States, t.State) {
		return false
	}
	return true
}

// Store persists task records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new task. It returns ErrExists for a duplicate ID.
	Create(ctx context.Context, t *Task) error

	// Get returns a task or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// List returns matching tasks oldest first.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Update replaces a stored task. CancelRequested is sticky: an update
	// never clears a flag set by RequestCancel.
	Update(ctx context.Context, t *Task) error

	// Checkpoint persists the progress of a running task and reports
	// whether cancellation has been requested.
	Checkpoint(ctx context.Context, id string, counter int64, count *int64) (cancelRequested bool, err error)

	// RequestCancel sets the cancel flag observed by Checkpoint.
	RequestCancel(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
