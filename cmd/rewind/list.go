package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
)

func newListCmd(c *cli) *cobra.Command {
	var (
		filter  index.Filter
		trigger string
		since   string
		until   string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List checkpoints, newest first",
		Long: `List checkpoints from the metadata index with optional filtering.

Examples:
  rewind list
  rewind list --tag release
  rewind list --since 7d --trigger automatic
  rewind list --search refactor --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			var err error
			if filter.After, err = parseTime(since, now); err != nil {
				return fmt.Errorf("%w: --since: %v", rewind.ErrInvalidArgument, err)
			}
			if filter.Before, err = parseTime(until, now); err != nil {
				return fmt.Errorf("%w: --until: %v", rewind.ErrInvalidArgument, err)
			}
			filter.Trigger = checkpoint.Trigger(trigger)

			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				cps, err := eng.List(ctx, filter)
				if err != nil {
					return err
				}
				if c.jsonOut {
					if cps == nil {
						cps = []*checkpoint.Checkpoint{}
					}
					return printJSON(c.out(cmd), cps)
				}
				if len(cps) == 0 {
					fmt.Fprintln(c.out(cmd), "No checkpoints found")
					return nil
				}
				fmt.Fprintln(c.out(cmd), c.styles.table(
					[]string{"ID", "NAME", "TRIGGER", "FILES", "SIZE", "CREATED", "TAGS"},
					checkpointRows(cps),
				))
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&filter.Tags, "tag", "t", nil, "only checkpoints carrying every tag")
	f.StringVar(&trigger, "trigger", "", "only checkpoints with this trigger")
	f.StringVar(&filter.WorktreeID, "worktree", "", "only checkpoints of this worktree")
	f.StringVarP(&filter.Text, "search", "s", "", "match name, description or tags")
	f.StringVar(&since, "since", "", "created at or after (RFC 3339, YYYY-MM-DD or age like 7d)")
	f.StringVar(&until, "until", "", "created at or before")
	f.IntVarP(&filter.Limit, "limit", "n", 0, "at most this many")
	return cmd
}

func newShowCmd(c *cli) *cobra.Command {
	var files bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				cp, err := eng.Get(ctx, args[0])
				if err != nil {
					return err
				}
				w := c.out(cmd)
				if c.jsonOut {
					return printJSON(w, struct {
						*checkpoint.Checkpoint
						Manifest *checkpoint.Manifest `json:"manifest,omitempty"`
					}{cp, manifestIf(files, cp.Manifest)})
				}

				s := c.styles
				fmt.Fprintln(w, s.title.Render(cp.Name))
				fmt.Fprintf(w, "  ID:       %s\n", cp.ID)
				fmt.Fprintf(w, "  Trigger:  %s\n", cp.Trigger)
				fmt.Fprintf(w, "  Created:  %s\n", formatCreated(cp.Created))
				fmt.Fprintf(w, "  Files:    %d (%s)\n", cp.Stats.FileCount, formatSize(cp.Stats.TotalSize))
				if cp.Description != "" {
					fmt.Fprintf(w, "  About:    %s\n", cp.Description)
				}
				if len(cp.Tags) > 0 {
					fmt.Fprintf(w, "  Tags:     %v\n", cp.Tags)
				}
				for _, detail := range []struct{ label, value string }{
					{"Worktree", cp.WorktreeID},
					{"Commit", cp.CommitHash},
					{"Session", cp.AgentSession},
					{"Txn", cp.TransactionID},
					{"Restores", cp.RestoreTarget},
					{"Source", cp.SourceArchive},
				} {
					if detail.value != "" {
						fmt.Fprintf(w, "  %-9s %s\n", detail.label+":", detail.value)
					}
				}
				if files && cp.Manifest != nil {
					fmt.Fprintln(w)
					for _, f := range cp.Manifest.Files {
						fmt.Fprintf(w, "  %s  %s  %s\n", f.Mode.Perm(), s.muted.Render(formatSize(f.Size)), f.Path)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&files, "files", "f", false, "list the captured files")
	return cmd
}

func manifestIf(ok bool, m *checkpoint.Manifest) *checkpoint.Manifest {
	if ok {
		return m
	}
	return nil
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the checkpoints of the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				stats, err := eng.Statistics(ctx)
				if err != nil {
					return err
				}
				w := c.out(cmd)
				if c.jsonOut {
					return printJSON(w, struct {
						index.Statistics
						Backend string `json:"backend"`
						Index   string `json:"index"`
					}{stats, eng.Backend().Name(), eng.IndexPath()})
				}

				fmt.Fprintln(w, c.styles.title.Render("Checkpoints"))
				fmt.Fprintf(w, "  Backend:  %s\n", eng.Backend().Name())
				fmt.Fprintf(w, "  Index:    %s\n", eng.IndexPath())
				fmt.Fprintf(w, "  Count:    %d\n", stats.Count)
				fmt.Fprintf(w, "  Size:     %s in %d files\n", formatSize(stats.TotalSize), stats.TotalFiles)
				if stats.Count == 0 {
					return nil
				}
				fmt.Fprintf(w, "  Oldest:   %s\n", formatCreated(stats.Oldest))
				fmt.Fprintf(w, "  Newest:   %s\n", formatCreated(stats.Newest))
				for _, t := range checkpoint.Triggers {
					if n := stats.ByTrigger[t]; n > 0 {
						fmt.Fprintf(w, "  %-19s %d\n", string(t)+":", n)
					}
				}
				return nil
			})
		},
	}
}
