package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/diff"
)

func newDiffCmd(c *cli) *cobra.Command {
	var unchanged bool

	cmd := &cobra.Command{
		Use:   "diff <id> [other-id]",
		Short: "Compare a checkpoint with another or with the workspace",
		Long: `Compare two checkpoints, or a checkpoint with the workspace as it is now.

With one id, A lists files the workspace has that the checkpoint lacks (a
restore leaves them alone), M and D list files a restore would overwrite or
bring back.

Examples:
  rewind diff cp-1718000000000-1a2b3c4d
  rewind diff cp-1718000000000-1a2b3c4d cp-1718000600000-5e6f7a8b`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				var (
					res diff.Result
					err error
				)
				if len(args) == 2 {
					res, err = eng.Compare(ctx, args[0], args[1])
				} else {
					res, err = eng.CompareLive(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if c.jsonOut {
					if !unchanged {
						res.Unchanged = nil
					}
					return printJSON(c.out(cmd), res)
				}
				c.printDiff(c.out(cmd), res, unchanged)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unchanged, "unchanged", false, "also list unchanged files")
	return cmd
}

func (c *cli) printDiff(w io.Writer, res diff.Result, unchanged bool) {
	s := c.styles
	if res.Empty() {
		fmt.Fprintln(w, "No differences")
	}
	for _, p := range res.Added {
		fmt.Fprintln(w, s.added.Render("A "+p))
	}
	for _, p := range res.Modified {
		fmt.Fprintln(w, s.changed.Render("M "+p))
	}
	for _, p := range res.Removed {
		fmt.Fprintln(w, s.removed.Render("D "+p))
	}
	if unchanged {
		for _, p := range res.Unchanged {
			fmt.Fprintln(w, s.muted.Render("  "+p))
		}
	}
	if !res.Empty() {
		fmt.Fprintln(w, s.muted.Render(fmt.Sprintf("%d added, %d modified, %d removed, %d unchanged",
			len(res.Added), len(res.Modified), len(res.Removed), len(res.Unchanged))))
	}
}
