package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lapse/internal/filter"
	"github.com/yairfalse/lapse/pkg/expiry"
	"github.com/yairfalse/lapse/reconciler"
)

var (
	inspectOutput      string
	inspectStates      []string
	inspectTags        []string
	inspectExcludeTags []string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List tagged instances and their derived expirations",
	Long: `List every in-scope EC2 instance carrying expiration tags, in the order a
pass would act on them.

Nothing is stopped, terminated or rescheduled. Instances whose tags yield no
valid expiration are listed separately with the reason.

The filters only narrow the listing. A pass always considers every instance.`,
	Example: `  lapse inspect                          # Table output
  lapse inspect -o json                  # JSON for scripting
  lapse inspect --state running          # Only running instances
  lapse inspect --tag team=platform      # Only one team's instances
  lapse inspect --exclude-tag keep=true`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", formatTable, "Output format: table, json, yaml")
	inspectCmd.Flags().StringSliceVar(&inspectStates, "state", nil, "Only show instances in these states")
	inspectCmd.Flags().StringSliceVar(&inspectTags, "tag", nil, "Only show instances carrying key=value (repeatable)")
	inspectCmd.Flags().StringSliceVar(&inspectExcludeTags, "exclude-tag", nil, "Hide instances carrying key=value (repeatable)")
}

// instanceView is one row of the inspect report.
type instanceView struct {
	ID          string   `json:"instance_id"`
	Name        string   `json:"name,omitempty"`
	State       string   `json:"state"`
	Action      string   `json:"action"`
	Expiration  string   `json:"expiration"`
	StopAt      string   `json:"stop_at"`
	TerminateAt string   `json:"terminate_at"`
	Due         bool     `json:"due"`
	Next        bool     `json:"next,omitempty"`
	Malformed   []string `json:"malformed_tags,omitempty"`

	expiresAt time.Time
}

type inspectReport struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Instances   []instanceView        `json:"instances"`
	Excluded    []reconciler.Excluded `json:"excluded,omitempty"`
}

func runInspect(cmd *cobra.Command, _ []string) error {
	if err := validFormat(inspectOutput); err != nil {
		return err
	}
	include, err := filter.ParseTags(inspectTags)
	if err != nil {
		return err
	}
	exclude, err := filter.ParseTags(inspectExcludeTags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	p, err := newPlugin(ctx, cfg)
	if err != nil {
		return err
	}
	resources, err := p.Describe(ctx)
	if err != nil {
		return err
	}

	resources = filter.New(inspectStates, include, exclude).Apply(resources)
	ev := reconciler.Evaluate(resources, expiry.NewTagKeys(cfg.Expiry.TagPrefix))
	report := buildInspectReport(ev, time.Now().UTC())
	return writeInspect(cmd.OutOrStdout(), inspectOutput, report)
}

func buildInspectReport(ev *reconciler.Evaluation, now time.Time) inspectReport {
	_, next := ev.Plan(now)
	report := inspectReport{GeneratedAt: now, Excluded: ev.Excluded}
	ev.Queue.Ascend(func(inst *expiry.Instance) bool {
		report.Instances = append(report.Instances, instanceView{
			ID:          inst.ID,
			Name:        inst.Name,
			State:       inst.State,
			Action:      inst.Action.Verb(),
			Expiration:  inst.Expiration.String(),
			StopAt:      inst.StopAt.String(),
			TerminateAt: inst.TerminateAt.String(),
			Due:         inst.DueBy(now),
			Next:        next != nil && next.ID == inst.ID,
			Malformed:   inst.Malformed,
			expiresAt:   inst.ExpiresAt(),
		})
		return true
	})
	return report
}

func writeInspect(w io.Writer, format string, report inspectReport) error {
	if format != formatTable {
		return writeStructured(w, format, report)
	}

	t := newTable(w, table.Row{"Instance", "Name", "State", "Action", "Expiration", "When", ""})
	for _, v := range report.Instances {
		mark := ""
		switch {
		case v.Due:
			mark = "due"
		case v.Next:
			mark = "next"
		}
		t.AppendRow(table.Row{v.ID, orDash(v.Name), v.State, v.Action, v.Expiration, formatUntil(v.expiresAt, report.GeneratedAt), mark})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(report.Instances)})
	t.Render()

	if len(report.Excluded) > 0 {
		fmt.Fprintln(w)
		ex := newTable(w, table.Row{"Excluded", "Reason"})
		for _, e := range report.Excluded {
			ex.AppendRow(table.Row{e.ID, e.Reason})
		}
		ex.Render()
	}
	return nil
}
