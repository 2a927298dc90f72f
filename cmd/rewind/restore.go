package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
)

func newRestoreCmd(c *cli) *cobra.Command {
	var (
		opts   rewind.RestoreOptions
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Write a checkpoint's files back into the workspace",
		Long: `Restore the files of a checkpoint into the workspace.

Restores are additive: files the checkpoint does not contain are left in
place. A safety checkpoint of the current state is taken first unless
--backup=false is given. A file that fails to restore does not stop the
others.

Examples:
  rewind restore cp-1718000000000-1a2b3c4d --dry-run
  rewind restore cp-1718000000000-1a2b3c4d --path src --path go.mod`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				w := c.out(cmd)
				if dryRun {
					res, err := eng.CompareLive(ctx, id)
					if err != nil {
						return err
					}
					if c.jsonOut {
						return printJSON(w, res)
					}
					fmt.Fprintln(w, c.styles.title.Render("Restore would change:"))
					c.printDiff(w, res, false)
					return nil
				}

				res, err := eng.Restore(ctx, id, opts)
				if err != nil {
					return err
				}
				if c.jsonOut {
					failed := make(map[string]string, len(res.Failed))
					for p, ferr := range res.Failed {
						failed[p] = ferr.Error()
					}
					out := map[string]any{
						"checkpoint": res.CheckpointID,
						"restored":   res.Restored,
						"failed":     failed,
						"unmatched":  res.Unmatched,
					}
					if res.Backup != nil {
						out["backup"] = res.Backup.ID
					}
					return printJSON(w, out)
				}

				s := c.styles
				if res.Backup != nil {
					fmt.Fprintln(w, s.ok("safety checkpoint "+summaryLine(res.Backup)))
				}
				fmt.Fprintln(w, s.ok(fmt.Sprintf("restored %d files from %s", len(res.Restored), id)))
				for _, p := range res.FailedPaths() {
					fmt.Fprintln(w, s.fail(fmt.Sprintf("%s: %v", p, res.Failed[p])))
				}
				for _, p := range res.Unmatched {
					fmt.Fprintln(w, s.warn(p+": not in checkpoint"))
				}
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d files could not be restored", len(res.Failed))
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.CreateBackup, "backup", true, "take a safety checkpoint first")
	f.StringSliceVarP(&opts.Selective, "path", "p", nil, "restore only these files or directories (repeatable)")
	f.BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	return cmd
}
