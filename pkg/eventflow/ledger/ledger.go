// Package ledger records which items a task has processed.
//
// The ledger is append-only. The task runner writes one entry per processed
// item and consults it to skip items on replay. Operators read the latest
// entries to follow a task's progress.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
)

// Entry is one processed item.
type Entry struct {
	TaskID string
	// Owner scopes idempotency: the task ID, or the task queue key when
	// the executor keeps its processed items across runs.
	Owner     string
	ItemRef   string
	State     operation.State
	Code      string
	Cause     string
	CreatedAt time.Time
}

// Filter selects entries for List and Count.
type Filter struct {
	TaskID string
	Owner  string
	State  operation.State
	// Last limits List to the most recent N entries. Zero returns all.
	Last int
}

func (f Filter) matches(e Entry) bool {
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.Owner != "" && e.Owner != f.Owner {
		return false
	}
	if f.State != "" && e.State != f.State {
		return false
	}
	return true
}

// Ledger is an append-only record of processed items.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// Record appends an entry. A zero CreatedAt is set to now.
	Record(ctx context.Context, e Entry) error

	// Contains reports whether owner has any entry for itemRef.
	Contains(ctx context.Context, owner, itemRef string) (bool, error)

	// List returns matching entries in append order.
	List(ctx context.Context, filter Filter) ([]Entry, error)

	// Count returns the number of matching entries.
	Count(ctx context.Context, filter Filter) (int, error)

	// Close releases resources.
	Close() error
}

// Sentinel errors.
var (
	// ErrClosed indicates the ledger has been closed.
	ErrClosed = errors.New("ledger closed")

	// ErrInvalidEntry indicates an entry without owner or item reference.
	ErrInvalidEntry = errors.New("ledger entry requires owner and item reference")
)

func validate(e Entry) error {
	if e.Owner == "" || e.ItemRef == "" {
		return ErrInvalidEntry
	}
	return nil
}
