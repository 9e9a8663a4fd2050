package tasks

import (
	"fmt"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/config"
	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
)

// Register lets r rebuild the built-in executors from stored tasks.
// executor may be nil when envelope-queue tasks are not run by r.
func Register(r *task.Runner, store checkpoint.Store, executor QueuedExecutor, settings config.TaskSettings) {
	if executor != nil {
		r.RegisterType(TypeEnvelopeQueue, func(*task.Task) (task.Handle, error) {
			return task.Bind(NewEnvelopeQueue(store, executor)), nil
		})
	}
	r.RegisterType(TypeRetryFailed, func(*task.Task) (task.Handle, error) {
		return task.Bind(NewRetryFailed(store, settings.MaxAttempts)), nil
	})
	r.RegisterType(TypePurgeRecords, func(t *task.Task) (task.Handle, error) {
		olderThan, err := PurgeAge(t.Params)
		if err != nil {
			return nil, err
		}
		return task.Bind(NewPurgeRecords(store, olderThan)), nil
	})
}

// PurgeAge reads ParamOlderThan from task parameters.
func PurgeAge(params map[string]string) (time.Duration, error) {
	raw, ok := params[ParamOlderThan]
	if !ok || raw == "" {
		return DefaultRetention, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", ParamOlderThan, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", ParamOlderThan, raw)
	}
	return d, nil
}
