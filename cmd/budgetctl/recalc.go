package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/trip-budget/budget"
)

func newRecalcCmd(a *app) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recompute the automatic line items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets := budget.Workspaces()
			if workspace != "all" {
				ws, err := budget.ParseWorkspace(workspace)
				if err != nil {
					return err
				}
				targets = []budget.Workspace{ws}
			}

			out := cmd.OutOrStdout()
			var errs []error
			for _, ws := range targets {
				report, err := a.recalc.Recalculate(cmd.Context(), ws)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", ws, err))
				}
				fmt.Fprintf(out, "%-9s created=[%s] updated=[%s] unchanged=[%s]\n", ws,
					strings.Join(report.Created, ", "),
					strings.Join(report.Updated, ", "),
					strings.Join(report.Unchanged, ", "))
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "all", "Workspace, or \"all\"")
	return cmd
}

func newRecoverCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Restore zeroed distance days from the change log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := workspaceFlag(cmd, "workspace")
			if err != nil {
				return err
			}
			days, err := a.ledger.RecoverDistances(cmd.Context(), ws, a.actor)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(days) == 0 {
				fmt.Fprintln(out, "nothing to recover")
				return nil
			}
			for _, d := range days {
				fmt.Fprintf(out, "day %d: %s\n", d.Day, d.Distance.Decimal)
			}
			// No scheduler runs in the CLI; refresh the auto items directly.
			_, err = a.recalc.Recalculate(cmd.Context(), ws)
			return err
		},
	}

	cmd.Flags().StringP("workspace", "w", string(budget.WorkspaceConcrete), "Workspace")
	return cmd
}
