package main

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/eventflow/pkg/eventflow/task"
	"github.com/spf13/cobra"
)

type taskView struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Trigger  string            `json:"trigger,omitempty"`
	State    task.State        `json:"state"`
	Counter  int64             `json:"counter"`
	Count    *int64            `json:"count,omitempty"`
	DryRun   bool              `json:"dry_run,omitempty"`
	Result   string            `json:"result,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Created  string            `json:"created_at"`
	Started  string            `json:"started_at,omitempty"`
	Finished string            `json:"ended_at,omitempty"`
}

func viewTask(t *task.Task) taskView {
	v := taskView{
		ID:      t.ID,
		Type:    t.Type,
		Trigger: t.Trigger,
		State:   t.State,
		Counter: t.Counter,
		Count:   t.Count,
		DryRun:  t.DryRun,
		Params:  t.Params,
		Created: stamp(t.CreatedAt),
	}
	if t.Result.State != "" {
		v.Result = t.Result.String()
	}
	if !t.StartedAt.IsZero() {
		v.Started = stamp(t.StartedAt)
	}
	if !t.EndedAt.IsZero() {
		v.Finished = stamp(t.EndedAt)
	}
	return v
}

func (c *cli) printTasks(cmd *cobra.Command, list []*task.Task) error {
	views := make([]taskView, len(list))
	for i, t := range list {
		views[i] = viewTask(t)
	}
	if c.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), views)
	}
	rows := make([]string, len(views))
	for i, v := range views {
		trigger := v.Trigger
		if trigger == "" {
			trigger = "-"
		}
		rows[i] = strings.Join([]string{
			v.ID, v.Type, trigger, string(v.State), progress(v.Counter, v.Count), v.Created,
		}, "\t")
	}
	return table(cmd.OutOrStdout(), "ID\tTYPE\tTRIGGER\tSTATE\tPROGRESS\tCREATED", rows)
}

func (c *cli) tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and control tasks",
	}
	cmd.AddCommand(c.tasksListCmd(), c.tasksCancelCmd(), c.tasksRunCreatedCmd(), c.tasksRecoverCmd())
	return cmd
}

func (c *cli) tasksListCmd() *cobra.Command {
	var (
		states  []string
		typ     string
		trigger string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := task.Filter{Type: typ, Trigger: trigger, Limit: limit}
			for _, s := range states {
				filter.States = append(filter.States, task.State(strings.ToUpper(s)))
			}
			list, err := a.tasks.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return c.printTasks(cmd, list)
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only tasks in these states")
	cmd.Flags().StringVar(&typ, "type", "", "Only tasks of this type")
	cmd.Flags().StringVar(&trigger, "trigger", "", "Only tasks with this trigger")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks")
	return cmd
}

func (c *cli) tasksCancelCmd() *cobra.Command {
	var interrupt bool
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Long: `Cancel a task. CREATED and SUSPENDED tasks are canceled immediately; a
RUNNING task stops at its next checkpoint, after the current item.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.runner()
			if interrupt {
				err = r.Interrupt(cmd.Context(), args[0])
			} else {
				err = r.Cancel(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			t, err := a.tasks.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), viewTask(t))
			}
			if t.State == task.StateRunning {
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", t.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s is %s\n", t.ID, t.State)
			return nil
		},
	}
	cmd.Flags().BoolVar(&interrupt, "interrupt", false, "Also interrupt the item in flight when the task runs in this process")
	return cmd
}

func (c *cli) tasksRunCreatedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-created [task-id]",
		Short: "Run CREATED tasks now",
		Long: `Run one CREATED task, or all of them when no ID is given. Tasks whose
type and trigger are already running are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var id string
			if len(args) == 1 {
				id = args[0]
			}
			n, runErr := a.runner().ProcessCreated(cmd.Context(), id)
			fmt.Fprintf(cmd.OutOrStdout(), "Ran %d task(s)\n", n)
			return runErr
		},
	}
}

func (c *cli) tasksRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Re-run recoverable tasks left RUNNING by a crashed process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, runErr := a.runner().Recover(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d task(s)\n", n)
			return runErr
		},
	}
}
