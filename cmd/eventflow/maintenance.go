package main

import (
	"fmt"
	"time"

	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
	"github.com/randalmurphal/eventflow/pkg/eventflow/tasks"
	"github.com/spf13/cobra"
)

// runBuiltin creates a task for h and runs it to completion.
func (c *cli) runBuiltin(cmd *cobra.Command, a *app, h task.Handle, opts task.CreateOptions) error {
	r := a.runner()
	t, err := r.Create(cmd.Context(), h, opts)
	if err != nil {
		return err
	}
	runErr := r.Run(cmd.Context(), t.ID)

	t, err = a.tasks.Get(cmd.Context(), t.ID)
	if err != nil {
		return err
	}
	if c.jsonOutput {
		if err := writeJSON(cmd.OutOrStdout(), viewTask(t)); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s: %s items\n", t.ID, t.State, progress(t.Counter, t.Count))
	}
	return runErr
}

func (c *cli) purgeCmd() *cobra.Command {
	var (
		olderThan time.Duration
		trigger   string
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished envelope records older than a retention age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return c.runBuiltin(cmd, a,
				task.Bind(tasks.NewPurgeRecords(a.envelopes, olderThan)),
				task.CreateOptions{
					Trigger: trigger,
					DryRun:  dryRun,
					Params:  map[string]string{tasks.ParamOlderThan: olderThan.String()},
				})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", tasks.DefaultRetention, "Retention age of EXECUTED and CANCELED records")
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "Trigger recorded on the task")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only count matching records")
	return cmd
}

func (c *cli) retryFailedCmd() *cobra.Command {
	var (
		maxAttempts int
		trigger     string
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue envelopes that failed with attempts left",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("max-attempts") {
				maxAttempts = a.settings.Tasks.MaxAttempts
			}
			return c.runBuiltin(cmd, a,
				task.Bind(tasks.NewRetryFailed(a.envelopes, maxAttempts)),
				task.CreateOptions{Trigger: trigger, DryRun: dryRun})
		},
	}
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Skip envelopes that already ran this many times (default from settings)")
	cmd.Flags().StringVar(&trigger, "trigger", "manual", "Trigger recorded on the task")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only count matching records")
	return cmd
}
