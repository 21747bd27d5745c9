package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lapse/reconciler"
)

var (
	runDryRun bool
	runOutput string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one expiration pass",
	Long: `Run a single expiration pass from the command line.

The pass describes every tagged instance, stops or terminates the ones whose
expiration has passed, and moves the next-check schedule to the earliest
expiration still in the future.

With --dry-run the pass evaluates and verifies as usual but issues no stop or
terminate call, sends no notification and leaves the schedule untouched.`,
	Example: `  lapse run --dry-run            # Show what would happen
  lapse run                      # Act on expired instances
  lapse run -o json              # Pass result as JSON`,
	RunE: runPass,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Evaluate and verify without acting or rescheduling")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", formatTable, "Output format: table, json, yaml")
}

func runPass(cmd *cobra.Command, _ []string) error {
	if err := validFormat(runOutput); err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := buildApp(ctx, cfg, appOptions{dryRun: runDryRun})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(ctx) }()

	res, err := a.reconciler.Run(ctx)
	if err != nil {
		return err
	}
	return writePassResult(cmd.OutOrStdout(), runOutput, res)
}

func writePassResult(w io.Writer, format string, res *reconciler.PassResult) error {
	if format != formatTable {
		return writeStructured(w, format, res)
	}

	if len(res.Results) > 0 {
		t := newTable(w, table.Row{"Instance", "Action", "Status", "Notified", "Detail"})
		for _, r := range res.Results {
			detail := r.Error
			if detail == "" {
				detail = r.SkipReason
			}
			t.AppendRow(table.Row{r.InstanceID, r.Action.Verb(), string(r.Status), r.Notified, orDash(detail)})
		}
		t.Render()
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Described: %d  Excluded: %d  Acted on: %d  Failed: %d  (%s)\n",
		res.Described, len(res.Excluded), len(res.Results), res.Failed(), res.Duration.Round(time.Millisecond))

	switch {
	case res.RescheduleErr != "":
		fmt.Fprintf(w, "Next check: reschedule failed: %s\n", res.RescheduleErr)
	case res.NextID != "":
		fmt.Fprintf(w, "Next check: %s (%s)\n", formatTime(res.NextFireAt), res.NextID)
	default:
		fmt.Fprintln(w, "Next check: backup schedule")
	}
	return nil
}
