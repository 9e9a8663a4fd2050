// Package checkpoint persists envelopes that leave the synchronous path:
// envelopes queued for deferred processing and suspended chains waiting to
// be resumed. Each record stores the serialized envelope and, once a
// processor has run, the resume cursor.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
)

// State is the processing state of a stored envelope.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSuspended State = "SUSPENDED"
	StateExecuted  State = "EXECUTED"
	StateException State = "EXCEPTION"
	StateCanceled  State = "CANCELED"
)

// Record is one stored envelope.
type Record struct {
	EnvelopeID string
	RootID     string
	ParentID   string
	Kind       event.ContentKind
	EventType  event.Type
	State      State
	Priority   event.Priority
	// Cursor is the order of the last completed processor, nil when no
	// processor has run yet.
	Cursor    *int
	Envelope  []byte
	Error     string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Cursor != nil {
		cursor := *r.Cursor
		c.Cursor = &cursor
	}
	c.Envelope = append([]byte(nil), r.Envelope...)
	return &c
}

// Filter selects records for List and Count.
type Filter struct {
	States []State
	RootID string
	// UpdatedBefore matches records last updated before this time.
	UpdatedBefore time.Time
	// MaxAttempts matches records with fewer attempts. Zero disables it.
	MaxAttempts int
	Limit       int
	Offset      int
}

func (f Filter) matches(r *Record) bool {
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if r.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RootID != "" && r.RootID != f.RootID {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if f.MaxAttempts > 0 && r.Attempts >= f.MaxAttempts {
		return false
	}
	return true
}

// Store persists envelope records keyed by envelope ID.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces a record. CreatedAt is kept on update.
	Save(ctx context.Context, rec *Record) error

	// Load returns a record or ErrNotFound.
	Load(ctx context.Context, envelopeID string) (*Record, error)

	// List returns matching records ordered by priority (highest first),
	// then creation time.
	List(ctx context.Context, filter Filter) ([]*Record, error)

	// Count returns the number of matching records, ignoring Limit and Offset.
	Count(ctx context.Context, filter Filter) (int, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, envelopeID string) error

	// Close releases resources.
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("envelope record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidRecord indicates a record without an envelope ID.
	ErrInvalidRecord = errors.New("envelope record requires an id")
)
