package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
)

func newCleanupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove interrupted checkpoints and stale index entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				report, err := eng.CleanupOrphans(ctx)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(c.out(cmd), map[string]any{
						"store": nonNil(report.Store),
						"index": report.Index,
					})
				}
				fmt.Fprintln(c.out(cmd), c.styles.ok(fmt.Sprintf("removed %d orphaned checkpoints, %d stale index entries",
					len(report.Store), report.Index)))
				return nil
			})
		},
	}
}

func newRebuildCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Rebuild the metadata index from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				n, err := eng.RebuildIndex(ctx)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(c.out(cmd), map[string]int{"checkpoints": n})
				}
				fmt.Fprintln(c.out(cmd), c.styles.ok(fmt.Sprintf("indexed %d checkpoints", n)))
				return nil
			})
		},
	}
}

func newWatchCmd(c *cli) *cobra.Command {
	var quiet, minInterval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Take automatic checkpoints while files change",
		Long: `Watch the workspace and take an automatic checkpoint once changes have
been quiet for --quiet, at most once per --min-interval. Runs until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("quiet") {
				c.v.Set("watch.quiet_period", quiet)
			}
			if cmd.Flags().Changed("min-interval") {
				c.v.Set("watch.min_interval", minInterval)
			}
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				s := eng.Settings()
				fmt.Fprintln(c.out(cmd), c.styles.muted.Render(fmt.Sprintf(
					"watching %s (quiet %s, min interval %s); Ctrl-C to stop",
					eng.Workspace(), s.WatchQuietPeriod, s.WatchMinInterval)))
				return eng.Watch(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&quiet, "quiet", 0, "quiet period before a checkpoint (default watch.quiet_period)")
	cmd.Flags().DurationVar(&minInterval, "min-interval", 0, "minimum time between checkpoints (default watch.min_interval)")
	return cmd
}
