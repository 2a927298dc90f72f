package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
)

func newCreateCmd(c *cli) *cobra.Command {
	var req rewind.CreateRequest
	var trigger string

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Take a checkpoint of the workspace",
		Long: `Snapshot every tracked file of the workspace into a new checkpoint.

Examples:
  rewind create
  rewind create "before refactor" -m "auth rewrite" --tag wip
  rewind create --trigger post-commit --commit $(git rev-parse HEAD)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.Name = strings.TrimSpace(args[0])
			}
			req.Trigger = checkpoint.Trigger(trigger)
			return c.withEngine(cmd, func(ctx context.Context, eng *rewind.Engine) error {
				cp, err := eng.Create(ctx, req)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(c.out(cmd), cp)
				}
				fmt.Fprintln(c.out(cmd), c.styles.ok("created "+summaryLine(cp)))
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Description, "message", "m", "", "description")
	f.StringSliceVarP(&req.Tags, "tag", "t", nil, "tag to attach (repeatable)")
	f.StringVar(&trigger, "trigger", string(checkpoint.TriggerManual), "trigger: manual, automatic, post-commit, agent-mode")
	f.StringVar(&req.WorktreeID, "worktree", "", "worktree id")
	f.StringVar(&req.CommitHash, "commit", "", "commit hash (post-commit)")
	f.StringVar(&req.AgentSession, "session", "", "agent session (agent-mode)")
	f.StringVar(&req.TransactionID, "transaction", "", "agent transaction (agent-mode)")
	return cmd
}
