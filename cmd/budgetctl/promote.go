package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warp/trip-budget/budget"
)

func newPromoteCmd(a *app) *cobra.Command {
	var (
		from, to string
		yes      bool
		retries  int
	)

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Copy one workspace onto another, replacing the target's data",
		Example: "  budgetctl promote --from sandbox --to concrete\n" +
			"  budgetctl promote --from concrete --to sandbox2 --yes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := budget.ParseWorkspace(from)
			if err != nil {
				return err
			}
			target, err := budget.ParseWorkspace(to)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !yes {
				ok, err := confirmTarget(cmd.InOrStdin(), out, source, target)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("promotion to %s aborted: %w", target, budget.ErrConfirmationRequired)
				}
			}

			ctx := cmd.Context()
			report, err := a.promoter.Promote(ctx, budget.PromotionRequest{
				Source:    source,
				Target:    target,
				Actor:     a.actor,
				Confirmed: true,
			})

			// A partial promotion is replayed from the snapshot it captured.
			var partial *budget.PartialPromotionError
			for attempt := 1; errors.As(err, &partial) && attempt <= retries; attempt++ {
				fmt.Fprintf(out, "promotion stopped during %s, retrying from snapshot (%d/%d)\n", partial.Phase, attempt, retries)
				report, err = a.promoter.Resume(ctx, partial.Run)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "promoted %s -> %s: %d items and %d days copied, %d items and %d days replaced\n",
				source, target, report.ItemsCopied, report.DaysCopied, report.ItemsRemoved, report.DaysRemoved)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Source workspace")
	cmd.Flags().StringVar(&to, "to", "", "Target workspace (its data is replaced)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the interactive confirmation")
	cmd.Flags().IntVar(&retries, "retries", 1, "Resume attempts after a partial promotion")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// confirmTarget asks the operator to type the target workspace's name.
func confirmTarget(in io.Reader, out io.Writer, source, target budget.Workspace) (bool, error) {
	fmt.Fprintf(out, "This replaces every line item, distance day and parameter of %q with a copy of %q.\n", target, source)
	fmt.Fprintf(out, "Type %q to continue: ", target)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.TrimSpace(line) == string(target), nil
}
