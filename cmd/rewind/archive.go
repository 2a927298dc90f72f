package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
)

func newExportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <archive.tar.gz>",
		Short: "Write a checkpoint to a portable archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				if err := eng.Export(ctx, args[0], args[1]); err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(c.out(cmd), map[string]string{"checkpoint": args[0], "archive": args[1]})
				}
				fmt.Fprintln(c.out(cmd), c.styles.ok(fmt.Sprintf("exported %s to %s", args[0], args[1])))
				return nil
			})
		},
	}
}

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <archive.tar.gz>",
		Short: "Add a checkpoint from an archive",
		Long: `Add the checkpoint in an archive written by export. The archive is
validated completely before the checkpoint becomes visible; an archive whose
checkpoint id already exists is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				cp, err := eng.Import(ctx, args[0])
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(c.out(cmd), cp)
				}
				fmt.Fprintln(c.out(cmd), c.styles.ok("imported "+summaryLine(cp)))
				return nil
			})
		},
	}
}
