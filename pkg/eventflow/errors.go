package eventflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/eventflow/pkg/eventflow/event"
)

// Sentinel errors for processor registration.
var (
	// ErrNilProcessor indicates Register was called with a nil processor.
	ErrNilProcessor = errors.New("processor cannot be nil")

	// ErrEmptyProcessorID indicates a processor returned an empty ID.
	ErrEmptyProcessorID = errors.New("processor ID cannot be empty")

	// ErrDuplicateProcessor indicates a processor ID is already registered.
	ErrDuplicateProcessor = errors.New("processor already registered")
)

// Sentinel errors for execution.
var (
	// ErrInvalidResult indicates a processor returned a result that is both
	// closed and suspended.
	ErrInvalidResult = errors.New("result cannot be both closed and suspended")

	// ErrNoStore indicates an operation needs a continuation store and none
	// is configured.
	ErrNoStore = errors.New("continuation store not configured")

	// ErrNotResumable indicates the stored envelope is not waiting to run.
	ErrNotResumable = errors.New("envelope is not resumable")

	// ErrPermissionDenied indicates the authorizer rejected an envelope.
	ErrPermissionDenied = errors.New("permission denied")
)

// ChainError wraps a failure that aborted an envelope's chain.
type ChainError struct {
	// EnvelopeID is empty for envelopes that were never persisted.
	EnvelopeID string
	// ProcessorID is the processor that failed, or the one that was about
	// to run when the context was cancelled.
	ProcessorID string
	// Order is the order of that processor.
	Order int
	// Context holds the results produced before the failure.
	Context *event.Context
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if e.ProcessorID == "" {
		return fmt.Sprintf("chain %s: %v", e.envelope(), e.Err)
	}
	return fmt.Sprintf("chain %s: processor %s (order %d): %v", e.envelope(), e.ProcessorID, e.Order, e.Err)
}

func (e *ChainError) envelope() string {
	if e.EnvelopeID == "" {
		return "<transient>"
	}
	return e.EnvelopeID
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ChainError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a processor.
type PanicError struct {
	ProcessorID string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("processor %s panicked: %v", e.ProcessorID, e.Value)
}

// PermissionError reports the permission an authorizer rejected.
type PermissionError struct {
	Permission string
	Err        error
}

// Error implements the error interface.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission %q: %v", e.Permission, e.Err)
}

// Unwrap returns the authorizer's error.
func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Is reports ErrPermissionDenied for every permission failure.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}
