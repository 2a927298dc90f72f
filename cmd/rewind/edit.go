package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
)

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Delete checkpoints",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				var errs []error
				for _, id := range args {
					if err := eng.Delete(ctx, id); err != nil {
						fmt.Fprintln(c.out(cmd), c.styles.fail(err.Error()))
						errs = append(errs, err)
						continue
					}
					fmt.Fprintln(c.out(cmd), c.styles.ok("deleted "+id))
				}
				return errors.Join(errs...)
			})
		},
	}
}

// editCmd builds a command that applies one metadata edit and prints the
// result.
func (c *cli) editCmd(use, short string, args cobra.PositionalArgs, edit func(ctx context.Context, eng *rewind.Engine, args []string) (*checkpoint.Checkpoint, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				cp, err := edit(ctx, eng, args)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(c.out(cmd), cp)
				}
				fmt.Fprintln(c.out(cmd), c.styles.ok("updated "+cp.ID))
				return nil
			})
		},
	}
}

func newRenameCmd(c *cli) *cobra.Command {
	return c.editCmd("rename <id> <name>", "Rename a checkpoint", cobra.ExactArgs(2),
		func(ctx context.Context, eng *rewind.Engine, args []string) (*checkpoint.Checkpoint, error) {
			return eng.Rename(ctx, args[0], args[1])
		})
}

func newDescribeCmd(c *cli) *cobra.Command {
	return c.editCmd("describe <id> <description>", "Replace a checkpoint's description", cobra.ExactArgs(2),
		func(ctx context.Context, eng *rewind.Engine, args []string) (*checkpoint.Checkpoint, error) {
			return eng.Describe(ctx, args[0], args[1])
		})
}

func newTagCmd(c *cli) *cobra.Command {
	return c.editCmd("tag <id> <tag>...", "Add tags to a checkpoint", cobra.MinimumNArgs(2),
		func(ctx context.Context, eng *rewind.Engine, args []string) (*checkpoint.Checkpoint, error) {
			return eng.Tag(ctx, args[0], args[1:]...)
		})
}

func newUntagCmd(c *cli) *cobra.Command {
	return c.editCmd("untag <id> <tag>...", "Remove tags from a checkpoint", cobra.MinimumNArgs(2),
		func(ctx context.Context, eng *rewind.Engine, args []string) (*checkpoint.Checkpoint, error) {
			return eng.Untag(ctx, args[0], args[1:]...)
		})
}
