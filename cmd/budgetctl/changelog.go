package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/trip-budget/budget"
)

func newChangelogCmd(a *app) *cobra.Command {
	var (
		workspace, table, record, field, actor string
		since                                  time.Duration
		limit                                  int
	)

	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Query the change log, newest first",
		Example: "  budgetctl changelog -w concrete --table distance_days --field distance\n" +
			"  budgetctl changelog --actor-filter system --since 24h",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := budget.ChangeFilter{
				Table:    budget.Table(table),
				RecordID: record,
				Field:    field,
				Actor:    actor,
				Limit:    limit,
			}
			if workspace != "" {
				ws, err := budget.ParseWorkspace(workspace)
				if err != nil {
					return err
				}
				f.Workspace = ws
			}
			if since > 0 {
				from := time.Now().UTC().Add(-since)
				f.From = &from
			}

			entries, err := a.ledger.ChangeLog().Query(cmd.Context(), f)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tWORKSPACE\tTABLE\tRECORD\tFIELD\tOLD\tNEW\tACTOR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.At.Format(time.RFC3339), e.Workspace, e.Table, e.RecordID,
					orDash(e.Field), deref(e.OldValue), deref(e.NewValue), e.Actor)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Workspace filter")
	cmd.Flags().StringVar(&table, "table", "", "Table filter (line_items, distance_days, parameters)")
	cmd.Flags().StringVar(&record, "record", "", "Record ID filter")
	cmd.Flags().StringVar(&field, "field", "", "Field filter")
	cmd.Flags().StringVar(&actor, "actor-filter", "", "Actor filter")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 24h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of entries")
	return cmd
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
