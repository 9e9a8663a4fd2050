package task

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
)

// State is the lifecycle state of a task.
type State string

const (
	StateCreated   State = "CREATED"
	StateRunning   State = "RUNNING"
	StateSuspended State = "SUSPENDED"
	StateCanceled  State = "CANCELED"
	StateExecuted  State = "EXECUTED"
	StateException State = "EXCEPTION"
)

// IsTerminal reports whether the task can no longer run.
func (s State) IsTerminal() bool {
	return s == StateExecuted || s == StateException || s == StateCanceled
}

var transitions = map[State][]State{
	StateCreated:   {StateRunning, StateCanceled},
	StateRunning:   {StateExecuted, StateException, StateCanceled, StateSuspended, StateRunning},
	StateSuspended: {StateRunning, StateCanceled},
}

// CanTransition reports whether a task may move from one state to another.
// RUNNING to RUNNING is the re-entry of a recovered task.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Sentinel errors.
var (
	ErrNotFound    = errors.New("task not found")
	ErrExists      = errors.New("task already exists")
	ErrStoreClosed = errors.New("task store closed")
	ErrInvalidTask = errors.New("task requires an ID and type")

	// ErrTaskRunning indicates a run of the same type and trigger is in
	// progress. The request is rejected, not queued.
	ErrTaskRunning = errors.New("task of this type and trigger is already running")

	// ErrTaskTerminal indicates the task already finished.
	ErrTaskTerminal = errors.New("task is in a terminal state")

	// ErrInvalidTransition indicates an operation the task's state forbids.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrDryRunNotSupported indicates a dry run of an executor without the
	// DryRun capability.
	ErrDryRunNotSupported = errors.New("executor does not support dry run")

	// ErrUnknownType indicates no handle or factory exists for a task.
	ErrUnknownType = errors.New("unknown task type")
)

// Task is the persisted record of one unit of durable work.
type Task struct {
	ID      string
	Type    string
	Trigger string
	State   State
	// Counter is the number of items processed in the current run.
	Counter int64
	// Count is the total reported by the first page, nil until fetched.
	Count           *int64
	Capabilities    Capabilities
	DryRun          bool
	CancelRequested bool
	Result          operation.Result
	Params          map[string]string
	CreatedAt       time.Time
	StartedAt       time.Time
	EndedAt         time.Time
}

// QueueKey identifies the task's type and trigger.
func (t *Task) QueueKey() string {
	return t.Type + "/" + t.Trigger
}

// LedgerOwner is the key the task's ledger entries are recorded under.
func (t *Task) LedgerOwner() string {
	if t.Capabilities.Queue {
		return t.QueueKey()
	}
	return t.ID
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	if t.Count != nil {
		n := *t.Count
		c.Count = &n
	}
	c.Params = maps.Clone(t.Params)
	return &c
}

// ItemError reports a failed item.
type ItemError struct {
	TaskID  string
	ItemRef string
	Err     error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("task %s: item %s: %v", e.TaskID, e.ItemRef, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ItemError) Unwrap() error {
	return e.Err
}

// TaskError reports a failure outside the item loop.
type TaskError struct {
	TaskID string
	// Op is the step that failed, such as "fetch items".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by an executor.
type PanicError struct {
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("executor panicked: %v", e.Value)
}
