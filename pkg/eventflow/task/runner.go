package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/randalmurphal/eventflow/pkg/eventflow/lock"
	"github.com/randalmurphal/eventflow/pkg/eventflow/observability"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/randalmurphal/eventflow/pkg/eventflow/registry"
)

// InterruptedCode marks tasks found RUNNING after a restart that could not
// be recovered.
const InterruptedCode = "INTERRUPTED"

// CreateOptions describe a new task.
type CreateOptions struct {
	// Trigger names what scheduled the task. Runs are exclusive per task
	// type and trigger.
	Trigger string
	DryRun  bool
	Params  map[string]string
}

// Runner drives tasks through their lifecycle.
type Runner struct {
	store Store
	opts  runnerOptions

	factories *registry.Registry[string, Factory]
	handles   *registry.Registry[string, Handle]
	mutexes   *registry.Registry[string, *sync.Mutex]
	running   *registry.Registry[string, context.CancelCauseFunc]

	wg sync.WaitGroup
}

// NewRunner creates a runner over store.
func NewRunner(store Store, opts ...Option) *Runner {
	o := defaultRunnerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.ledger == nil {
		o.ledger = ledger.NewMemoryLedger()
	}
	return &Runner{
		store:     store,
		opts:      o,
		factories: registry.New[string, Factory](),
		handles:   registry.New[string, Handle](),
		mutexes:   registry.New[string, *sync.Mutex](),
		running:   registry.New[string, context.CancelCauseFunc](),
	}
}

// Store returns the task store.
func (r *Runner) Store() Store {
	return r.store
}

// Ledger returns the processed item ledger.
func (r *Runner) Ledger() ledger.Ledger {
	return r.opts.ledger
}

// RegisterType lets the runner rebuild handles for stored tasks of
// taskType, as needed by Recover and by runs in a fresh process.
func (r *Runner) RegisterType(taskType string, f Factory) {
	r.factories.Register(taskType, f)
}

// Create stores a new CREATED task for h.
func (r *Runner) Create(ctx context.Context, h Handle, opts CreateOptions) (*Task, error) {
	caps := h.Capabilities()
	if opts.DryRun && !caps.DryRun {
		return nil, ErrDryRunNotSupported
	}
	t := &Task{
		ID:           uuid.NewString(),
		Type:         h.TaskType(),
		Trigger:      opts.Trigger,
		State:        StateCreated,
		Capabilities: caps,
		DryRun:       opts.DryRun,
		Result:       operation.Created(),
		Params:       opts.Params,
		CreatedAt:    r.opts.now(),
	}
	if err := r.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	r.handles.Register(t.ID, h)
	return t.Clone(), nil
}

// Run executes a CREATED task and blocks until it stops. A task that is
// already running for the same type and trigger yields ErrTaskRunning.
func (r *Runner) Run(ctx context.Context, id string) error {
	exec, err := r.prepare(ctx, id, StateCreated)
	if err != nil {
		return err
	}
	return exec.run()
}

// Start executes a CREATED task in the background. Exclusivity is checked
// before Start returns; the run itself outlives ctx's cancellation.
func (r *Runner) Start(ctx context.Context, id string) error {
	exec, err := r.prepare(context.WithoutCancel(ctx), id, StateCreated)
	if err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = exec.run()
	}()
	return nil
}

// Wait blocks until every run launched by Start has stopped.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Resume continues a SUSPENDED task.
func (r *Runner) Resume(ctx context.Context, id string) error {
	exec, err := r.prepare(ctx, id, StateSuspended)
	if err != nil {
		return err
	}
	return exec.run()
}

// ProcessCreated runs a CREATED task immediately. With an empty id it runs
// every CREATED task in creation order and reports how many it ran; tasks
// already running elsewhere are skipped.
func (r *Runner) ProcessCreated(ctx context.Context, id string) (int, error) {
	if id != "" {
		if err := r.Run(ctx, id); err != nil {
			return 0, err
		}
		return 1, nil
	}

	tasks, err := r.store.List(ctx, Filter{States: []State{StateCreated}})
	if err != nil {
		return 0, fmt.Errorf("list created tasks: %w", err)
	}
	var (
		ran  int
		errs []error
	)
	for _, t := range tasks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		err := r.Run(ctx, t.ID)
		switch {
		case errors.Is(err, ErrTaskRunning):
			continue
		case err != nil && !isTaskFailure(err):
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
			continue
		}
		ran++
	}
	return ran, errors.Join(errs...)
}

// Cancel stops a task. CREATED and SUSPENDED tasks are canceled at once; a
// RUNNING task is flagged and stops at its next checkpoint.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case t.State.IsTerminal():
		return ErrTaskTerminal
	case t.State == StateRunning:
		return r.store.RequestCancel(ctx, id)
	}

	t.State = StateCanceled
	t.Result = operation.Canceled()
	t.EndedAt = r.opts.now()
	if err := r.store.Update(ctx, t); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	r.handles.Delete(id)
	return nil
}

// Interrupt flags the task for cancellation and cancels the run's context.
// The run ends CANCELED even when it was waiting on a fetch or the rate
// limiter. An item that ignores its context still runs to completion.
func (r *Runner) Interrupt(ctx context.Context, id string) error {
	if err := r.Cancel(ctx, id); err != nil {
		return err
	}
	if cancel, ok := r.running.Get(id); ok {
		cancel(errInterrupted)
	}
	return nil
}

// Recover handles tasks left RUNNING by a previous process. Recoverable
// tasks with a registered type are run again and skip the items their
// ledger already holds; the others are marked EXCEPTION. It returns the
// number of tasks re-run.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	tasks, err := r.store.List(ctx, Filter{States: []State{StateRunning}})
	if err != nil {
		return 0, fmt.Errorf("list running tasks: %w", err)
	}

	var (
		recovered int
		errs      []error
	)
	for _, t := range tasks {
		if r.running.Has(t.ID) {
			continue
		}
		if !t.Capabilities.Recoverable {
			errs = append(errs, r.abandon(ctx, t, errors.New("task interrupted and not recoverable")))
			continue
		}
		if _, err := r.handle(t); err != nil {
			errs = append(errs, r.abandon(ctx, t, err))
			continue
		}
		exec, err := r.prepare(ctx, t.ID, StateRunning)
		if err != nil {
			if !errors.Is(err, ErrTaskRunning) {
				errs = append(errs, fmt.Errorf("recover task %s: %w", t.ID, err))
			}
			continue
		}
		recovered++
		if err := exec.run(); err != nil && !isTaskFailure(err) {
			errs = append(errs, fmt.Errorf("recover task %s: %w", t.ID, err))
		}
	}
	return recovered, errors.Join(errs...)
}

func (r *Runner) abandon(ctx context.Context, t *Task, cause error) error {
	t.State = StateException
	t.Result = operation.Result{State: operation.StateException, Code: InterruptedCode, Cause: cause.Error()}
	t.EndedAt = r.opts.now()
	if err := r.store.Update(ctx, t); err != nil {
		return fmt.Errorf("abandon task %s: %w", t.ID, err)
	}
	observability.LogTaskError(observability.TaskLogger(r.opts.logger, t.ID, t.Type), cause)
	return nil
}

// isTaskFailure reports errors already recorded on the task itself.
func isTaskFailure(err error) bool {
	var te *TaskError
	return errors.As(err, &te)
}

func (r *Runner) handle(t *Task) (Handle, error) {
	if h, ok := r.handles.Get(t.ID); ok {
		return h, nil
	}
	f, ok := r.factories.Get(t.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t.Type)
	}
	h, err := f(t.Clone())
	if err != nil {
		return nil, fmt.Errorf("build %s executor: %w", t.Type, err)
	}
	r.handles.Register(t.ID, h)
	return h, nil
}

// prepare takes the task's exclusivity and marks it RUNNING.
func (r *Runner) prepare(ctx context.Context, id string, from State) (*execution, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.State.IsTerminal() {
		return nil, ErrTaskTerminal
	}
	h, err := r.handle(t)
	if err != nil {
		return nil, err
	}
	if t.DryRun && !h.Capabilities().DryRun {
		return nil, ErrDryRunNotSupported
	}

	key := t.QueueKey()
	mu := r.mutexes.GetOrCreate(key, func() *sync.Mutex { return &sync.Mutex{} })
	if !mu.TryLock() {
		return nil, ErrTaskRunning
	}
	release := mu.Unlock

	if r.opts.locker != nil {
		lease, err := r.opts.locker.TryAcquire(ctx, "task:"+key, r.opts.lockTTL)
		if err != nil {
			mu.Unlock()
			if errors.Is(err, lock.ErrLockHeld) {
				return nil, ErrTaskRunning
			}
			return nil, fmt.Errorf("acquire task lock: %w", err)
		}
		release = func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.opts.logger.Warn("task lock release failed",
					slog.String("task_id", id),
					slog.String("error", err.Error()))
			}
			mu.Unlock()
		}
	}

	// Reload under the lock; the task may have moved on meanwhile.
	t, err = r.store.Get(ctx, id)
	if err == nil && (t.State != from || !CanTransition(t.State, StateRunning)) {
		err = fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.State, StateRunning)
		if t.State.IsTerminal() {
			err = ErrTaskTerminal
		}
	}
	if err != nil {
		release()
		return nil, err
	}

	t.State = StateRunning
	t.Counter = 0
	t.Count = nil
	t.Result = operation.Result{State: operation.StateRunning}
	t.StartedAt = r.opts.now()
	t.EndedAt = time.Time{}
	if err := r.store.Update(ctx, t); err != nil {
		release()
		return nil, fmt.Errorf("mark task running: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	r.running.Register(id, cancel)

	return &execution{
		runner: r,
		task:   t,
		handle: h,
		caps:   h.Capabilities(),
		ctx:    runCtx,
		logger: observability.TaskLogger(r.opts.logger, t.ID, t.Type),
		release: func() {
			r.running.Delete(id)
			cancel(nil)
			release()
		},
	}, nil
}
