package main

import (
	"strings"

	"github.com/randalmurphal/eventflow/pkg/eventflow/ledger"
	"github.com/spf13/cobra"
)

func (c *cli) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Read the processed item ledger",
	}
	cmd.AddCommand(c.ledgerTailCmd())
	return cmd
}

func (c *cli) ledgerTailCmd() *cobra.Command {
	var (
		last  int
		state string
	)
	cmd := &cobra.Command{
		Use:   "tail <task-id>",
		Short: "Show the most recent ledger entries of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := ledger.Filter{TaskID: args[0], Last: last}
			if state != "" {
				filter.State = operationState(state)
			}
			entries, err := a.ledger.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			rows := make([]string, len(entries))
			for i, e := range entries {
				cause := e.Cause
				if e.Code != "" {
					cause = strings.TrimSpace("[" + e.Code + "] " + cause)
				}
				rows[i] = strings.Join([]string{stamp(e.CreatedAt), e.ItemRef, string(e.State), cause}, "\t")
			}
			return table(cmd.OutOrStdout(), "TIME\tITEM\tSTATE\tCAUSE", rows)
		},
	}
	cmd.Flags().IntVarP(&last, "lines", "n", 20, "Number of entries to show")
	cmd.Flags().StringVar(&state, "state", "", "Only entries with this outcome")
	return cmd
}
