package main

import (
	"errors"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lapse/storage"
)

var (
	historyLimit  int
	historyOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show actions recorded by serve mode",
	Long: `Show the stop and terminate outcomes recorded in the local store by
lapse serve, newest first. Skipped and failed attempts are included with
their reason.`,
	Example: `  lapse history --store ./lapse.db
  lapse history --store ./lapse.db --limit 100 -o json`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show (0 for all)")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", formatTable, "Output format: table, json, yaml")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if err := validFormat(historyOutput); err != nil {
		return err
	}
	if cfg.Schedule.StorePath == "" {
		return errors.New("history needs a local store: pass --store or set IX_SCHEDULE_STORE")
	}

	store, err := storage.Open(cfg.Schedule.StorePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.RecentActions(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	return writeHistory(cmd.OutOrStdout(), historyOutput, records)
}

func writeHistory(w io.Writer, format string, records []storage.ActionRecord) error {
	if format != formatTable {
		if records == nil {
			records = []storage.ActionRecord{}
		}
		return writeStructured(w, format, records)
	}

	t := newTable(w, table.Row{"Time", "Instance", "Action", "Status", "Reason"})
	for _, r := range records {
		t.AppendRow(table.Row{formatTime(r.At), r.InstanceID, orDash(r.Action), r.Status, orDash(r.Reason)})
	}
	t.Render()
	return nil
}
