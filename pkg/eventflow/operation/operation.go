// Package operation describes the outcome of a unit of work.
//
// A Result is produced by processors (one or more per event result) and by
// task items. The same vocabulary is used by both layers so ledger entries,
// task records and chain results can be compared directly.
package operation

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of an operation.
type State string

const (
	StateCreated     State = "CREATED"
	StateRunning     State = "RUNNING"
	StateExecuted    State = "EXECUTED"
	StateNotExecuted State = "NOT_EXECUTED"
	StateBlocked     State = "BLOCKED"
	StateException   State = "EXCEPTION"
	StateCanceled    State = "CANCELED"
)

// IsSuccessful reports whether the operation completed its work.
func (s State) IsSuccessful() bool {
	return s == StateExecuted
}

// IsTerminal reports whether no further transition is expected.
func (s State) IsTerminal() bool {
	switch s {
	case StateExecuted, StateNotExecuted, StateException, StateCanceled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateRunning, StateExecuted, StateNotExecuted,
		StateBlocked, StateException, StateCanceled:
		return true
	}
	return false
}

// Result is the outcome of one operation.
type Result struct {
	State State  `json:"state"`
	Code  string `json:"code,omitempty"`
	Cause string `json:"cause,omitempty"`

	// Err is the original error for in-process inspection. It is not persisted.
	Err error `json:"-"`
}

// Executed returns a successful result.
func Executed() Result {
	return Result{State: StateExecuted}
}

// Created returns the accepted/pending marker used for deferred work.
func Created() Result {
	return Result{State: StateCreated}
}

// Canceled returns a canceled result.
func Canceled() Result {
	return Result{State: StateCanceled}
}

// NotExecuted returns a result for work that was intentionally skipped.
func NotExecuted(code string) Result {
	return Result{State: StateNotExecuted, Code: code}
}

// Exception returns a failed result carrying err as its cause.
func Exception(err error) Result {
	r := Result{State: StateException, Err: err}
	if err != nil {
		r.Cause = err.Error()
		var coded interface{ Code() string }
		if errors.As(err, &coded) {
			r.Code = coded.Code()
		}
	}
	return r
}

// String implements fmt.Stringer.
func (r Result) String() string {
	switch {
	case r.Cause != "" && r.Code != "":
		return fmt.Sprintf("%s [%s]: %s", r.State, r.Code, r.Cause)
	case r.Cause != "":
		return fmt.Sprintf("%s: %s", r.State, r.Cause)
	case r.Code != "":
		return fmt.Sprintf("%s [%s]", r.State, r.Code)
	}
	return string(r.State)
}
