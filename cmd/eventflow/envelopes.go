package main

import (
	"strconv"
	"strings"

	"github.com/randalmurphal/eventflow/pkg/eventflow/checkpoint"
	"github.com/randalmurphal/eventflow/pkg/eventflow/operation"
	"github.com/spf13/cobra"
)

func operationState(s string) operation.State {
	return operation.State(strings.ToUpper(s))
}

type envelopeView struct {
	ID        string           `json:"id"`
	RootID    string           `json:"root_id,omitempty"`
	Kind      string           `json:"kind"`
	EventType string           `json:"event_type"`
	State     checkpoint.State `json:"state"`
	Priority  string           `json:"priority"`
	Cursor    *int             `json:"cursor,omitempty"`
	Attempts  int              `json:"attempts"`
	Error     string           `json:"error,omitempty"`
	Updated   string           `json:"updated_at"`
}

func (c *cli) envelopesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "envelopes",
		Short: "Inspect stored envelopes",
	}
	cmd.AddCommand(c.envelopesListCmd())
	return cmd
}

func (c *cli) envelopesListCmd() *cobra.Command {
	var (
		states []string
		root   string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored envelopes, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := checkpoint.Filter{RootID: root, Limit: limit}
			for _, s := range states {
				filter.States = append(filter.States, checkpoint.State(strings.ToUpper(s)))
			}
			recs, err := a.envelopes.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			views := make([]envelopeView, len(recs))
			for i, r := range recs {
				views[i] = envelopeView{
					ID:        r.EnvelopeID,
					RootID:    r.RootID,
					Kind:      string(r.Kind),
					EventType: string(r.EventType),
					State:     r.State,
					Priority:  r.Priority.String(),
					Cursor:    r.Cursor,
					Attempts:  r.Attempts,
					Error:     r.Error,
					Updated:   stamp(r.UpdatedAt),
				}
			}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			rows := make([]string, len(views))
			for i, v := range views {
				cursor := "-"
				if v.Cursor != nil {
					cursor = strconv.Itoa(*v.Cursor)
				}
				rows[i] = strings.Join([]string{
					v.ID, v.Kind, v.EventType, string(v.State), v.Priority, cursor,
					strconv.Itoa(v.Attempts), v.Updated,
				}, "\t")
			}
			return table(cmd.OutOrStdout(), "ID\tKIND\tTYPE\tSTATE\tPRIORITY\tCURSOR\tATTEMPTS\tUPDATED", rows)
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only envelopes in these states")
	cmd.Flags().StringVar(&root, "root", "", "Only envelopes of this lineage")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of envelopes")
	return cmd
}
