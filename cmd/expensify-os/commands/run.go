package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"expensifyos/internal/domain"
	"expensifyos/internal/services/orchestrator"
)

func runCmd(o *options) *cobra.Command {
	var (
		month   string
		sources []string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch expenses and submit them to Expensify",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			period := domain.PreviousPeriod(time.Now())
			if month != "" {
				p, err := domain.ParsePeriod(month)
				if err != nil {
					return fmt.Errorf("--month: %w", err)
				}
				period = p
			}

			w, err := o.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Target month: %s\n", period)
			if dryRun {
				fmt.Fprintln(out, "DRY RUN, nothing will be submitted to Expensify")
			}

			req := orchestrator.Request{Period: period, DryRun: dryRun}
			for _, s := range sources {
				req.Sources = append(req.Sources, domain.Source(s))
			}
			report, err := w.Orchestrator.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if len(report.Results) == 0 {
				return errors.New("no plugins to run, check the config and --source flags")
			}
			printReport(out, report)
			if !report.Success() {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "billing month as YYYY-MM (default previous month)")
	cmd.Flags().StringArrayVar(&sources, "source", nil, "source to run, repeatable (default all enabled)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch data but do not submit to Expensify")
	return cmd
}

func printReport(out io.Writer, r *domain.Report) {
	for _, res := range r.Results {
		fmt.Fprintf(out, "\n--- %s ---\n", res.Source)
		switch res.Status {
		case domain.StatusNoCharge:
			fmt.Fprintf(out, "  No charges for %s\n", r.Period)
		case domain.StatusFailed:
			fmt.Fprintf(out, "  ERROR: %s\n", res.Detail)
		default:
			if e := res.Expense; e != nil {
				fmt.Fprintf(out, "  Amount: %s %s\n  Receipt: %s\n", e.Currency, e.Decimal(), e.ReceiptPath)
			}
			switch res.Status {
			case domain.StatusDryRun:
				fmt.Fprintln(out, "  [DRY RUN] Would submit to Expensify")
			case domain.StatusSubmitted:
				fmt.Fprintf(out, "  Submitted! Transaction: %s\n", res.ExpenseID)
			case domain.StatusPartial:
				fmt.Fprintf(out, "  Created %s but the receipt was not attached: %s\n", res.ExpenseID, res.Detail)
			}
		}
	}
	fmt.Fprintln(out, "\n=== Summary ===")
	fmt.Fprintf(out, "Submitted: %d, Dry run: %d, Skipped: %d, Partial: %d, Errors: %d\n",
		r.Count(domain.StatusSubmitted), r.Count(domain.StatusDryRun), r.Count(domain.StatusNoCharge),
		r.Count(domain.StatusPartial), r.Count(domain.StatusFailed))
}
