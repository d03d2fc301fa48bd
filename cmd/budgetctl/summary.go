package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/trip-budget/budget"
)

func newSummaryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Budget summary of a workspace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := workspaceFlag(cmd, "workspace")
			if err != nil {
				return err
			}
			s, err := a.ledger.Summary(cmd.Context(), ws)
			if err != nil {
				return err
			}
			return renderSummary(cmd.OutOrStdout(), s)
		},
	}

	cmd.Flags().StringP("workspace", "w", string(budget.WorkspaceConcrete), "Workspace")
	return cmd
}

func renderSummary(w io.Writer, s budget.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	row := func(label string, v decimal.Decimal) {
		fmt.Fprintf(tw, "%s\t%s\t\n", label, v.StringFixed(2))
	}

	fmt.Fprintf(tw, "workspace\t%s\t\n", s.Workspace)
	for _, c := range budget.Categories() {
		row(string(c), s.ByCategory[c])
	}
	row("transport (incl. billed)", s.TransportRollup)
	row("subtotal", s.Subtotal)
	row("buffer", s.Buffer)
	row("grand total", s.GrandTotal)
	row("income", s.Income)
	row("balance", s.Balance)
	row("support vehicle (round trip)", s.SupportVehicleRoundTrip)
	fmt.Fprintf(tw, "distance\t%s (trip %s + extra %s, %d days)\t\n",
		s.Distance.Grand, s.Distance.Trip, s.Distance.Extra, s.Distance.DayCount)
	return tw.Flush()
}
