package rewind

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
	"github.com/randalmurphal/rewind/pkg/rewind/restore"
)

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// CreateBackup takes a pre-restore-safety checkpoint of the current
	// workspace first. If the backup fails nothing is restored.
	CreateBackup bool

	// Selective limits the restore to these paths and directories.
	Selective []string
}

// RestoreResult describes a finished restore.
type RestoreResult struct {
	restore.Report

	// Backup is the safety checkpoint, when one was requested.
	Backup *checkpoint.Checkpoint
}

// Restore writes the files of checkpoint id back into the workspace.
//
// Restores are additive and not transactional: files absent from the
// checkpoint are left alone, and a failure on one file is reported in
// Failed while the rest are still written. Use CompareLive to preview.
func (e *Engine) Restore(ctx context.Context, id string, opts RestoreOptions) (RestoreResult, error) {
	var res RestoreResult
	err := e.run(ctx, "restore", id, true, func(ctx context.Context) error {
		cp, err := e.backend.Load(ctx, id)
		if err != nil {
			return err
		}

		if opts.CreateBackup {
			backup, err := e.create(ctx, CreateRequest{
				Name:          "before restoring " + cp.Name,
				Trigger:       checkpoint.TriggerPreRestoreSafety,
				WorktreeID:    cp.WorktreeID,
				RestoreTarget: cp.ID,
			})
			if err != nil {
				return fmt.Errorf("safety checkpoint: %w", err)
			}
			res.Backup = backup
			e.spans.AddSpanEvent(ctx, "restore.backup", attribute.String(observability.AttrBackupID, backup.ID))
		}

		report, err := e.restorer.Restore(ctx, cp, e.backend, e.workspace, restore.Options{Selective: opts.Selective})
		res.Report = report
		e.spans.AddSpanEvent(ctx, "restore.written",
			attribute.Int(observability.AttrRestored, len(report.Restored)),
			attribute.Int(observability.AttrFailed, len(report.Failed)),
		)
		return err
	})
	return res, err
}
