package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/config"
	"github.com/randalmurphal/rewind/pkg/rewind/retention"
)

func newPruneCmd(c *cli) *cobra.Command {
	var (
		maxAge   string
		maxCount int
		preserve []string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete checkpoints by retention policy",
		Long: `Delete checkpoints older than --max-age or beyond the --max-count newest.
Checkpoints carrying a preserve tag are never pruned, though they still count
toward --max-count.

Without flags the policy comes from retention.* in .rewind.yaml:
  retention:
    max_age: 720h
    max_count: 50
    preserve_tags: [release]

Examples:
  rewind prune --max-count 20 --dry-run
  rewind prune --max-age 30d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				policy := eng.RetentionPolicy()
				if cmd.Flags().Changed("max-age") {
					d, err := config.ParseDuration(maxAge)
					if err != nil {
						return fmt.Errorf("%w: --max-age: %v", rewind.ErrInvalidArgument, err)
					}
					policy.MaxAge = d
				}
				if cmd.Flags().Changed("max-count") {
					policy.MaxCount = maxCount
				}
				if cmd.Flags().Changed("preserve") {
					policy.PreserveTags = preserve
				}
				if policy.Empty() {
					return fmt.Errorf("%w: no retention policy: set --max-age or --max-count, or retention.* in the config", rewind.ErrInvalidArgument)
				}

				if dryRun {
					plan, err := eng.PlanPrune(ctx, policy)
					if err != nil {
						return err
					}
					return c.printPlan(cmd, plan)
				}

				report, err := eng.Prune(ctx, policy)
				if err != nil {
					return err
				}
				return c.printPruneReport(cmd, report)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&maxAge, "max-age", "", "prune checkpoints older than this (e.g. 720h, 30d)")
	f.IntVar(&maxCount, "max-count", 0, "keep at most this many newest checkpoints")
	f.StringSliceVar(&preserve, "preserve", nil, "tags that protect a checkpoint (replaces the configured list)")
	f.BoolVar(&dryRun, "dry-run", false, "show what would be pruned without deleting")
	return cmd
}

func (c *cli) printPlan(cmd *cobra.Command, plan []retention.Decision) error {
	w := c.out(cmd)
	if c.jsonOut {
		if plan == nil {
			plan = []retention.Decision{}
		}
		return printJSON(w, plan)
	}
	var prune int
	rows := make([][]string, 0, len(plan))
	for _, d := range plan {
		action := "keep"
		if d.Prune {
			action = "prune"
			prune++
		}
		rows = append(rows, []string{action, d.ID, d.Name, formatAge(time.Since(d.Created)), d.Reason})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, c.styles.table([]string{"ACTION", "ID", "NAME", "AGE", "REASON"}, rows))
	}
	fmt.Fprintf(w, "%d of %d checkpoints would be pruned (dry run)\n", prune, len(plan))
	return nil
}

func (c *cli) printPruneReport(cmd *cobra.Command, report retention.Report) error {
	w := c.out(cmd)
	if c.jsonOut {
		failed := make(map[string]string, len(report.Failed))
		for id, err := range report.Failed {
			failed[id] = err.Error()
		}
		deleted := report.Deleted
		if deleted == nil {
			deleted = []string{}
		}
		return printJSON(w, map[string]any{"deleted": deleted, "failed": failed})
	}
	for _, id := range report.Deleted {
		fmt.Fprintln(w, c.styles.ok("deleted "+id))
	}
	for id, err := range report.Failed {
		fmt.Fprintln(w, c.styles.fail(fmt.Sprintf("%s: %v", id, err)))
	}
	fmt.Fprintf(w, "Pruned %d checkpoints\n", len(report.Deleted))
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d checkpoints could not be pruned", len(report.Failed))
	}
	return nil
}

func formatAge(d time.Duration) string {
	days := int(d.Hours() / 24)
	switch {
	case days == 0:
		return "< 1 day"
	case days == 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", days)
	}
}
