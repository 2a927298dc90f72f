package rewind

import (
	"context"
	"fmt"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/diff"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
)

// List returns index summaries matching f, newest first. Summaries carry
// no manifest.
func (e *Engine) List(ctx context.Context, f index.Filter) ([]*checkpoint.Checkpoint, error) {
	var out []*checkpoint.Checkpoint
	err := e.run(ctx, "list", "", false, func(context.Context) error {
		out = e.index.Query(f)
		return nil
	})
	return out, err
}

// Get loads a checkpoint with its manifest from the store.
func (e *Engine) Get(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	var cp *checkpoint.Checkpoint
	err := e.run(ctx, "get", id, false, func(ctx context.Context) error {
		var err error
		cp, err = e.backend.Load(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Statistics aggregates the index.
func (e *Engine) Statistics(ctx context.Context) (index.Statistics, error) {
	var stats index.Statistics
	err := e.run(ctx, "statistics", "", false, func(context.Context) error {
		stats = e.index.Statistics()
		return nil
	})
	return stats, err
}

// Compare diffs checkpoint a against checkpoint b.
func (e *Engine) Compare(ctx context.Context, a, b string) (diff.Result, error) {
	var res diff.Result
	err := e.run(ctx, "compare", "", false, func(ctx context.Context) error {
		before, err := e.backend.Load(ctx, a)
		if err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		after, err := e.backend.Load(ctx, b)
		if err != nil {
			return fmt.Errorf("%s: %w", b, err)
		}
		res = diff.Manifests(before.Manifest, after.Manifest)
		return nil
	})
	return res, err
}

// CompareLive diffs checkpoint id against the workspace as it is now.
// Added lists files a restore would leave in place; Modified and Removed
// list files a restore would overwrite or bring back.
func (e *Engine) CompareLive(ctx context.Context, id string) (diff.Result, error) {
	var res diff.Result
	err := e.run(ctx, "compare-live", id, false, func(ctx context.Context) error {
		cp, err := e.backend.Load(ctx, id)
		if err != nil {
			return err
		}
		res, err = diff.Live(ctx, cp.Manifest, e.workspace, e.filter)
		return err
	})
	return res, err
}
