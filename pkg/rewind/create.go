package rewind

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
)

// CreateRequest describes a checkpoint to take.
type CreateRequest struct {
	// Name defaults to "checkpoint <timestamp>".
	Name        string
	Description string

	// Trigger defaults to manual.
	Trigger    checkpoint.Trigger
	Tags       []string
	WorktreeID string

	// Detail fields, required by some triggers.
	CommitHash    string
	AgentSession  string
	TransactionID string
	RestoreTarget string
}

// Create snapshots the workspace into a new checkpoint.
//
// The snapshot streams into a store writer; a snapshot or commit failure
// aborts the writer so nothing is left behind. Files that cannot be read
// are skipped and logged. The new summary is added to the index.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*checkpoint.Checkpoint, error) {
	var cp *checkpoint.Checkpoint
	err := e.run(ctx, "create", "", true, func(ctx context.Context) error {
		var err error
		cp, err = e.create(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// create runs under the writer lock.
func (e *Engine) create(ctx context.Context, req CreateRequest) (cp *checkpoint.Checkpoint, err error) {
	elapsed := observability.TimedOperation()
	now := e.now()

	trigger := req.Trigger
	if trigger == "" {
		trigger = checkpoint.TriggerManual
	}
	name := req.Name
	if name == "" {
		name = "checkpoint " + now.Local().Format(time.DateTime)
	}

	cp = checkpoint.New(name, trigger, now)
	cp.Description = req.Description
	cp.Tags = req.Tags
	cp.WorktreeID = req.WorktreeID
	cp.CommitHash = req.CommitHash
	cp.AgentSession = req.AgentSession
	cp.TransactionID = req.TransactionID
	cp.RestoreTarget = req.RestoreTarget

	defer func() {
		if err != nil {
			observability.LogCheckpointError(e.logger, "create", cp.ID, err)
			e.metrics.RecordCheckpoint(ctx, string(trigger), 0, 0, msDuration(elapsed()), err)
		}
	}()

	if err := cp.Validate(); err != nil {
		return nil, err
	}

	w, err := e.backend.Begin(ctx, &cp.Metadata)
	if err != nil {
		return nil, err
	}
	manifest, skipped, err := e.snapshotter.Snapshot(ctx, e.workspace, w)
	if err != nil {
		w.Abort()
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := w.Commit(ctx, manifest); err != nil {
		w.Abort()
		return nil, fmt.Errorf("commit: %w", err)
	}
	cp.WithManifest(manifest)
	e.spans.AddSpanEvent(ctx, "snapshot.committed", observability.SnapshotAttributes(cp.ID, cp.Stats.FileCount, cp.Stats.TotalSize, len(skipped))...)

	if err := e.index.Upsert(cp); err != nil {
		e.logger.Warn("index update failed",
			slog.String("checkpoint_id", cp.ID),
			slog.String("error", err.Error()),
		)
	}

	ms := elapsed()
	observability.LogCheckpointCreated(e.logger, cp.ID, string(trigger), cp.Stats.FileCount, cp.Stats.TotalSize, ms)
	if len(skipped) > 0 {
		e.logger.Info("files skipped during snapshot",
			slog.String("checkpoint_id", cp.ID),
			slog.Int("skipped", len(skipped)),
		)
	}
	e.metrics.RecordCheckpoint(ctx, string(trigger), cp.Stats.FileCount, cp.Stats.TotalSize, msDuration(ms), nil)
	return cp, nil
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
