package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
)

// execution is one run of a task, from RUNNING to the state it stops in.
type execution struct {
	runner  *Runner
	task    *Task
	handle  Handle
	caps    Capabilities
	ctx     context.Context
	logger  *slog.Logger
	release func()

	counter int64
	count   *int64
}

var (
	// errRollback aborts an item transaction whose outcome is EXCEPTION.
	errRollback = errors.New("item failed")

	// errInterrupted is the cancel cause of a run stopped by Interrupt.
	errInterrupted = errors.New("task interrupted")
)

func (e *execution) run() (err error) {
	defer e.release()

	r := e.runner
	start := time.Now()
	elapsed := observability.TimedOperation()
	ctx, span := r.opts.spans.StartTaskSpan(e.ctx, e.task.ID, e.task.Type)
	defer func() {
		r.opts.spans.EndSpanWithError(span, err)
	}()

	observability.LogTaskStart(e.logger, e.task.Trigger)

	state, loopErr := e.loop(ctx)
	if state == "" && errors.Is(context.Cause(ctx), errInterrupted) {
		// Interrupt ended a fetch or a rate limit wait before the next
		// checkpoint could observe the cancel request.
		r.opts.spans.AddSpanEvent(ctx, "cancel observed")
		state, loopErr = StateCanceled, nil
	}
	if state == "" {
		// The caller's context ended mid-run. The task stays RUNNING so
		// Recover can pick it up.
		e.logger.Warn("task abandoned",
			slog.Int64("counter", e.counter),
			slog.String("error", loopErr.Error()))
		return loopErr
	}

	final := e.finish(context.WithoutCancel(ctx), state, loopErr)
	r.opts.metrics.RecordTaskRun(ctx, e.task.Type, string(state), time.Since(start))
	observability.LogTaskComplete(e.logger, string(state), e.counter, e.count, elapsed())
	if loopErr != nil {
		observability.LogTaskError(e.logger, loopErr)
		return loopErr
	}
	return final
}

// loop runs the item loop. An empty state means the run was abandoned
// because ctx ended.
func (e *execution) loop(ctx context.Context) (State, error) {
	r := e.runner
	number := 0
	for {
		req := PageRequest{Number: number, Size: r.opts.pageSize}
		if e.caps.DrainQueue {
			req.Number = 0
		}

		page, err := e.handle.fetch(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return StateException, &TaskError{TaskID: e.task.ID, Op: "fetch items", Err: err}
		}

		if e.count == nil {
			total := page.total
			e.count = &total
			if state, err := e.checkpoint(ctx); state != "" || err != nil {
				return state, err
			}
		}
		if e.task.DryRun {
			return StateExecuted, nil
		}

		processed := 0
		for _, item := range page.items {
			ref := e.handle.ref(item)
			if e.skip(ctx, item, ref) {
				continue
			}
			if r.opts.limiter != nil {
				if err := r.opts.limiter.Wait(ctx); err != nil {
					return "", err
				}
			}

			res, suspend := e.process(ctx, item, ref)
			if suspend {
				return StateSuspended, nil
			}
			e.record(ctx, ref, res)
			e.counter++
			processed++

			if state, err := e.checkpoint(ctx); state != "" || err != nil {
				return state, err
			}
		}

		if e.caps.DrainQueue {
			if processed == 0 || e.counter >= *e.count {
				return StateExecuted, nil
			}
			continue
		}
		if !page.hasNext {
			return StateExecuted, nil
		}
		number++
	}
}

// checkpoint persists progress and observes cancellation. It returns
// CANCELED when a cancel was requested and an empty state with ctx's error
// when the run must be abandoned.
func (e *execution) checkpoint(ctx context.Context) (State, error) {
	cancel, err := e.runner.store.Checkpoint(context.WithoutCancel(ctx), e.task.ID, e.counter, e.count)
	if err != nil {
		return StateException, &TaskError{TaskID: e.task.ID, Op: "checkpoint", Err: err}
	}
	if cancel {
		e.runner.opts.spans.AddSpanEvent(ctx, "cancel observed")
		return StateCanceled, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", nil
}

// skip reports whether item was already processed. Lookup failures are
// logged and the item is processed.
func (e *execution) skip(ctx context.Context, item any, ref string) bool {
	done, err := e.handle.processed(ctx, item, e.runner.opts.ledger, e.task.LedgerOwner())
	if err != nil {
		observability.LogLedgerError(e.logger, ref, err)
		return false
	}
	return done
}

// process runs one item. suspend is true when the executor asked to pause.
func (e *execution) process(ctx context.Context, item any, ref string) (res operation.Result, suspend bool) {
	r := e.runner
	ictx, span := r.opts.spans.StartItemSpan(ctx, ref)

	var err error
	if e.caps.RequireNewTransaction {
		err = r.opts.transactor.InNewTx(ictx, func(txCtx context.Context) error {
			out, ierr := e.invoke(txCtx, item, ref)
			res = out
			if ierr != nil {
				return ierr
			}
			if res.State == operation.StateException {
				return errRollback
			}
			return nil
		})
		if errors.Is(err, errRollback) {
			err = nil
		} else if err != nil && !errors.Is(err, ErrSuspend) && res.State != operation.StateException {
			// Commit or begin failed after the item reported success.
			res = operation.Exception(&ItemError{TaskID: e.task.ID, ItemRef: ref, Err: err})
			err = nil
		}
	} else {
		res, err = e.invoke(ictx, item, ref)
	}

	if errors.Is(err, ErrSuspend) {
		r.opts.spans.EndSpanWithError(span, nil)
		return operation.Result{}, true
	}
	var itemErr error
	if res.State == operation.StateException {
		itemErr = res.Err
		if itemErr == nil {
			itemErr = errors.New(res.String())
		}
		observability.LogItemError(e.logger, ref, itemErr)
	}
	r.opts.spans.EndSpanWithError(span, itemErr)
	r.opts.metrics.RecordTaskItem(ctx, e.task.Type, string(res.State))
	return res, false
}

// invoke calls the executor. Item failures become EXCEPTION results; only
// ErrSuspend is returned as an error.
func (e *execution) invoke(ctx context.Context, item any, ref string) (res operation.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = operation.Exception(&ItemError{
				TaskID:  e.task.ID,
				ItemRef: ref,
				Err:     &PanicError{Value: p, Stack: string(debug.Stack())},
			})
			err = nil
		}
	}()

	out, perr := e.handle.process(ctx, item)
	switch {
	case errors.Is(perr, ErrSuspend):
		return operation.Result{}, ErrSuspend
	case perr != nil:
		return operation.Exception(&ItemError{TaskID: e.task.ID, ItemRef: ref, Err: perr}), nil
	case out == nil || out.State == "":
		return operation.Executed(), nil
	}
	return *out, nil
}

// record appends the item outcome to the ledger. Failures never stop the
// task.
func (e *execution) record(ctx context.Context, ref string, res operation.Result) {
	r := e.runner
	err := r.opts.ledger.Record(context.WithoutCancel(ctx), ledger.Entry{
		TaskID:    e.task.ID,
		Owner:     e.task.LedgerOwner(),
		ItemRef:   ref,
		State:     res.State,
		Code:      res.Code,
		Cause:     res.Cause,
		CreatedAt: r.opts.now(),
	})
	if err != nil {
		observability.LogLedgerError(e.logger, ref, err)
		r.opts.metrics.RecordLedgerFailure(ctx, e.task.Type)
	}
}

// finish stores the state the run stopped in.
func (e *execution) finish(ctx context.Context, state State, cause error) error {
	r := e.runner
	t, err := r.store.Get(ctx, e.task.ID)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	t.State = state
	t.Counter = e.counter
	t.Count = e.count

	switch state {
	case StateExecuted:
		t.Result = operation.Executed()
	case StateCanceled:
		t.Result = operation.Canceled()
	case StateException:
		t.Result = operation.Exception(cause)
	case StateSuspended:
		t.Result = operation.Result{State: operation.StateBlocked}
	}
	if state.IsTerminal() {
		t.EndedAt = r.opts.now()
		r.handles.Delete(t.ID)
	}
	if err := r.store.Update(ctx, t); err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}
