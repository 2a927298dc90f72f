package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/retention"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var (
		toBackend string
		toPath    string
		trigger   string
		after     string
		before    string
		move      bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy checkpoints into another store",
		Long: `Copy checkpoints into another backend, verifying every copy. With --move
each checkpoint is removed from the current store once its copy checks out.
Checkpoints the target already holds are skipped.

Examples:
  rewind migrate --to sqlite --to-path /backups/rewind.db
  rewind migrate --to badger --to-path /backups/badger --before 30d --move`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			opts := retention.MigrateOptions{
				Trigger: checkpoint.Trigger(trigger),
				Move:    move,
			}
			var err error
			if opts.After, err = parseTime(after, now); err != nil {
				return fmt.Errorf("%w: --after: %v", rewind.ErrInvalidArgument, err)
			}
			if opts.Before, err = parseTime(before, now); err != nil {
				return fmt.Errorf("%w: --before: %v", rewind.ErrInvalidArgument, err)
			}
			if toBackend == store.KindMemory {
				return fmt.Errorf("%w: a memory target would be lost on exit", rewind.ErrInvalidArgument)
			}
			if toPath == "" {
				return fmt.Errorf("%w: --to-path is required", rewind.ErrInvalidArgument)
			}
			if abs, err := filepath.Abs(toPath); err == nil {
				toPath = abs
			}

			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				target, err := store.Open(ctx, toBackend, toPath, c.logger(cmd))
				if err != nil {
					return fmt.Errorf("%w: open target: %v", rewind.ErrInvalidArgument, err)
				}
				defer target.Close()

				report, err := eng.Migrate(ctx, target, opts)
				if err != nil {
					return err
				}
				return c.printMigrateReport(cmd, report)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&toBackend, "to", store.KindSQLite, "target backend: fs, sqlite, badger")
	f.StringVar(&toPath, "to-path", "", "target location (directory for fs and badger, file for sqlite)")
	f.StringVar(&trigger, "trigger", "", "only checkpoints with this trigger")
	f.StringVar(&after, "after", "", "only checkpoints created at or after")
	f.StringVar(&before, "before", "", "only checkpoints created at or before")
	f.BoolVar(&move, "move", false, "remove each checkpoint here once copied")
	return cmd
}

func (c *cli) printMigrateReport(cmd *cobra.Command, report retention.MigrateReport) error {
	w := c.out(cmd)
	failedIDs := make([]string, 0, len(report.Failed))
	for id := range report.Failed {
		failedIDs = append(failedIDs, id)
	}
	sort.Strings(failedIDs)

	if c.jsonOut {
		failed := make(map[string]string, len(report.Failed))
		for id, err := range report.Failed {
			failed[id] = err.Error()
		}
		return printJSON(w, map[string]any{
			"copied":  nonNil(report.Copied),
			"removed": nonNil(report.Removed),
			"skipped": nonNil(report.Skipped),
			"failed":  failed,
		})
	}

	fmt.Fprintln(w, c.styles.ok(fmt.Sprintf("copied %d, removed %d, skipped %d",
		len(report.Copied), len(report.Removed), len(report.Skipped))))
	for _, id := range failedIDs {
		fmt.Fprintln(w, c.styles.fail(fmt.Sprintf("%s: %v", id, report.Failed[id])))
	}
	if len(failedIDs) > 0 {
		return fmt.Errorf("%d checkpoints could not be migrated", len(failedIDs))
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
